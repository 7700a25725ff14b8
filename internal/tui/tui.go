package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/jesseduffield/gocui"

	"github.com/Joseda-hg/tasksync/internal/api"
	"github.com/Joseda-hg/tasksync/internal/coordinator"
	"github.com/Joseda-hg/tasksync/internal/edit"
	"github.com/Joseda-hg/tasksync/internal/filter"
	"github.com/Joseda-hg/tasksync/internal/logging"
	"github.com/Joseda-hg/tasksync/internal/model"
	"github.com/Joseda-hg/tasksync/internal/session"
	"github.com/Joseda-hg/tasksync/internal/tasks"
)

const (
	viewHeader = "header"
	viewFooter = "footer"
	viewTasks  = "tasks"
	viewDetail = "detail"
	viewForm   = "form"
)

type UI struct {
	ctx    context.Context
	coord  *coordinator.Coordinator
	editor *edit.Session
	gui    *gocui.Gui
	logger *slog.Logger
	now    func() time.Time
	// async runs engine calls off the main loop; the gocui loop must not block.
	async func(func())

	state         tasks.State
	authenticated bool
	selected      int
	form          *formState
	formEditor    *formEditor
	status        string
	submitting    bool
}

type formEditor struct {
	ui *UI
}

func newUI(ctx context.Context, coord *coordinator.Coordinator, logger *slog.Logger) *UI {
	ui := &UI{
		ctx:    ctx,
		coord:  coord,
		editor: edit.New(coord),
		logger: logging.OrDefault(logger),
		now:    time.Now,
		async:  func(fn func()) { go fn() },
	}
	ui.formEditor = &formEditor{ui: ui}
	ui.state = coord.Store().State()
	_, ok := coord.Holder().Credential()
	ui.setAuthenticated(ok)
	return ui
}

// Run blocks until the user quits or ctx is cancelled.
func Run(ctx context.Context, coord *coordinator.Coordinator, logger *slog.Logger) error {
	gui, err := gocui.NewGui(gocui.NewGuiOpts{OutputMode: gocui.OutputNormal})
	if err != nil {
		return err
	}
	defer gui.Close()

	ui := newUI(ctx, coord, logger)
	ui.gui = gui
	gui.Mouse = false

	unsubscribeStore := coord.Store().Subscribe(func(state tasks.State) {
		ui.onMain(func() { ui.applyState(state) })
	})
	defer unsubscribeStore()
	unsubscribeSession := coord.Holder().Subscribe(func(change session.Change) {
		ui.onMain(func() { ui.setAuthenticated(change.Authenticated) })
	})
	defer unsubscribeSession()

	gui.SetManagerFunc(ui.layout)
	if err := ui.bindKeys(gui); err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			gui.Update(func(*gocui.Gui) error { return gocui.ErrQuit })
		case <-done:
		}
	}()

	if err := gui.MainLoop(); err != nil && !goerrors.Is(err, gocui.ErrQuit) {
		return err
	}
	return nil
}

// onMain applies fn on the gocui main loop, or inline when there is no gui.
func (u *UI) onMain(fn func()) {
	if u.gui == nil {
		fn()
		return
	}
	u.gui.Update(func(*gocui.Gui) error {
		fn()
		return nil
	})
}

func (u *UI) applyState(state tasks.State) {
	u.state = state
	if u.selected >= len(state.Tasks) {
		u.selected = max(len(state.Tasks)-1, 0)
	}
}

// setAuthenticated swaps between the login form and the task views.
func (u *UI) setAuthenticated(ok bool) {
	u.authenticated = ok
	if !ok {
		u.editor.BeginCreate()
		u.selected = 0
		if u.form == nil || u.form.kind != formLogin {
			u.form = &formState{kind: formLogin, title: "Log in", fields: buildLoginFields()}
		}
		return
	}
	if u.form != nil && u.form.kind == formLogin {
		u.form = nil
		u.status = ""
	}
}

func (u *UI) bindKeys(gui *gocui.Gui) error {
	global := []struct {
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{gocui.KeyCtrlC, u.quit},
		{'q', u.quitUnlessEditing},
		{'r', u.reload},
		{'a', u.addTask},
		{'e', u.editTask},
		{'d', u.deleteTask},
		{'x', u.toggleDone},
		{'f', u.openFilter},
		{'n', u.nextPage},
		{'p', u.prevPage},
		{'L', u.logout},
	}
	for _, binding := range global {
		if err := gui.SetKeybinding("", binding.key, gocui.ModNone, binding.handler); err != nil {
			return err
		}
	}

	list := []struct {
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{gocui.KeyArrowDown, u.moveDown},
		{'j', u.moveDown},
		{gocui.KeyArrowUp, u.moveUp},
		{'k', u.moveUp},
		{gocui.KeyEnter, u.editTask},
	}
	for _, binding := range list {
		if err := gui.SetKeybinding(viewTasks, binding.key, gocui.ModNone, binding.handler); err != nil {
			return err
		}
	}

	form := []struct {
		key     any
		handler func(*gocui.Gui, *gocui.View) error
	}{
		{gocui.KeyEnter, u.submitForm},
		{gocui.KeyTab, u.nextFormField},
		{gocui.KeyBacktab, u.prevFormField},
		{gocui.KeyArrowDown, u.nextFormField},
		{gocui.KeyArrowUp, u.prevFormField},
		{gocui.KeyEsc, u.cancelForm},
	}
	for _, binding := range form {
		if err := gui.SetKeybinding(viewForm, binding.key, gocui.ModNone, binding.handler); err != nil {
			return err
		}
	}
	return nil
}

func (u *UI) layout(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	if maxX <= 0 || maxY <= 0 {
		return nil
	}

	headerView, err := gui.SetView(viewHeader, 0, 0, maxX-1, 0, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	headerView.Frame = false
	headerView.Wrap = true
	u.renderHeader(headerView)

	footerY1 := max(maxY-1, 1)
	footerY0 := max(footerY1-2, 1)
	footerView, err := gui.SetView(viewFooter, 0, footerY0, maxX-1, footerY1, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	footerView.Frame = false
	footerView.Wrap = true
	footerView.FgColor = gocui.ColorDefault | gocui.AttrDim
	u.renderFooter(footerView)

	bodyTop := 1
	bodyBottom := footerY0 - 1
	if bodyBottom <= bodyTop {
		return nil
	}

	listWidth := max(maxX*3/5, 30)
	if listWidth > maxX-20 {
		listWidth = maxX / 2
	}

	tasksView, err := gui.SetView(viewTasks, 0, bodyTop, listWidth-1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		tasksView.Title = "Tasks"
		tasksView.TitleColor = gocui.ColorYellow
	}
	applyViewStyle(tasksView, u.form == nil)
	u.renderTasks(tasksView)

	detailView, err := gui.SetView(viewDetail, listWidth, bodyTop, maxX-1, bodyBottom, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	if goerrors.Is(err, gocui.ErrUnknownView) {
		detailView.Title = "Detail"
		detailView.Wrap = true
	}
	applyViewStyle(detailView, false)
	u.renderDetail(detailView)

	if u.form != nil {
		if err := u.showForm(gui); err != nil {
			return err
		}
	} else {
		_ = gui.DeleteView(viewForm)
		if current := gui.CurrentView(); current == nil || current.Name() != viewTasks {
			_, _ = gui.SetCurrentView(viewTasks)
		}
	}

	gui.Cursor = u.form != nil
	return nil
}

func (u *UI) renderHeader(view *gocui.View) {
	view.Clear()
	sessionLabel := "signed out"
	if u.authenticated {
		sessionLabel = "signed in"
	}
	fmt.Fprintf(view, "tasksync | %s | Filter: %s | Page: %s | %s",
		sessionLabel,
		filter.Describe(u.coord.CurrentFilter()),
		formatPage(u.state.Page),
		u.state.Status)
}

func (u *UI) renderFooter(view *gocui.View) {
	view.Clear()
	view.SetOrigin(0, 0)
	if u.form != nil {
		fmt.Fprintln(view, "enter submit | tab/arrows field | space/←→ cycle choice | esc cancel")
	} else {
		fmt.Fprintln(view, "a add | e edit | d delete | x done | f filter | r reload | n/p page | L logout | q quit")
	}
	if message := u.message(); message != "" {
		fmt.Fprint(view, message)
	}
}

// message picks the line shown under the key help.
func (u *UI) message() string {
	switch {
	case u.status != "":
		return u.status
	case u.state.MutationErr != "":
		return u.state.MutationErr
	case u.submitting || u.state.Busy():
		return "Saving..."
	}
	return ""
}

func (u *UI) renderTasks(view *gocui.View) {
	view.Clear()
	for _, line := range u.taskLines() {
		fmt.Fprintln(view, line)
	}
	if len(u.state.Tasks) > 0 {
		view.SetCursor(0, min(u.selected, len(u.state.Tasks)-1))
	}
}

func (u *UI) taskLines() []string {
	switch {
	case !u.authenticated:
		return []string{"Log in to see your tasks."}
	case u.state.Status == tasks.StatusError:
		return []string{u.state.Err, "", "press r to retry"}
	case u.state.Loading() && len(u.state.Tasks) == 0:
		return []string{"Loading..."}
	case len(u.state.Tasks) == 0:
		return []string{"No tasks found."}
	}

	now := u.now()
	lines := make([]string, 0, len(u.state.Tasks))
	for i, task := range u.state.Tasks {
		prefix := " "
		if i == u.selected {
			prefix = ">"
		}
		lines = append(lines, prefix+" "+formatTaskSummary(task, now))
	}
	return lines
}

func (u *UI) renderDetail(view *gocui.View) {
	view.Clear()
	task := u.selectedTask()
	if task == nil {
		return
	}
	fmt.Fprint(view, strings.Join(describeTask(*task, u.now()), "\n"))
}

func (u *UI) selectedTask() *model.Task {
	if !u.authenticated || u.selected < 0 || u.selected >= len(u.state.Tasks) {
		return nil
	}
	task := u.state.Tasks[u.selected]
	return &task
}

func (u *UI) inputActive() bool {
	return u.form != nil
}

func (u *UI) moveDown(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	if u.selected < len(u.state.Tasks)-1 {
		u.selected++
	}
	return nil
}

func (u *UI) moveUp(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	if u.selected > 0 {
		u.selected--
	}
	return nil
}

func (u *UI) reload(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || !u.authenticated {
		return nil
	}
	u.status = ""
	u.run(func() error { return u.coord.FetchTasks(u.ctx, nil) })
	return nil
}

func (u *UI) addTask(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || !u.authenticated {
		return nil
	}
	u.editor.BeginCreate()
	u.form = &formState{kind: formTask, title: "New Task", fields: buildTaskFields(u.editor.Fields())}
	u.status = ""
	return nil
}

func (u *UI) editTask(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	task := u.selectedTask()
	if task == nil {
		return nil
	}
	u.editor.Begin(*task)
	u.form = &formState{kind: formTask, title: "Edit Task", fields: buildTaskFields(u.editor.Fields())}
	u.status = ""
	return nil
}

func (u *UI) deleteTask(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	task := u.selectedTask()
	if task == nil {
		return nil
	}
	id := task.ID
	u.status = ""
	u.run(func() error { return u.coord.DeleteTask(u.ctx, id) })
	return nil
}

func (u *UI) toggleDone(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() {
		return nil
	}
	task := u.selectedTask()
	if task == nil {
		return nil
	}
	id := task.ID
	u.status = ""
	u.run(func() error { return u.coord.ToggleCompleted(u.ctx, id) })
	return nil
}

func (u *UI) openFilter(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || !u.authenticated {
		return nil
	}
	u.form = &formState{kind: formFilter, title: "Filter", fields: buildFilterFields(u.coord.CurrentFilter())}
	return nil
}

func (u *UI) nextPage(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || !u.authenticated || !u.state.Page.HasNext {
		return nil
	}
	return u.gotoPage(max(u.state.Page.CurrentPage, 1) + 1)
}

func (u *UI) prevPage(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || !u.authenticated || !u.state.Page.HasPrev {
		return nil
	}
	return u.gotoPage(max(u.state.Page.CurrentPage-1, 1))
}

func (u *UI) gotoPage(page int) error {
	criteria := u.coord.CurrentFilter()
	criteria.Page = page
	u.selected = 0
	u.run(func() error { return u.coord.SubmitFilter(u.ctx, criteria) })
	return nil
}

func (u *UI) logout(_ *gocui.Gui, _ *gocui.View) error {
	if u.inputActive() || !u.authenticated {
		return nil
	}
	u.run(func() error { return u.coord.Logout(u.ctx) })
	return nil
}

// run executes an engine call asynchronously and reports failures the store
// does not already surface.
func (u *UI) run(call func() error) {
	u.async(func() {
		err := call()
		if err == nil {
			return
		}
		u.logger.Debug("tui action failed", "error", err)
		u.onMain(func() { u.status = statusFor(err) })
	})
}

func statusFor(err error) string {
	switch {
	case err == nil,
		errors.Is(err, api.ErrUnauthorized),
		errors.Is(err, session.ErrNoCredential):
		return ""
	case errors.Is(err, coordinator.ErrTaskNotFound):
		return "Task is no longer in the list"
	case edit.IsValidation(err):
		return err.Error()
	}
	// Fetch and mutation failures are already shown through the store state.
	return ""
}

func (u *UI) showForm(gui *gocui.Gui) error {
	maxX, maxY := gui.Size()
	width := min(max(50, maxX/2), maxX-2)
	height := len(u.form.fields) + 1
	x0 := max((maxX-width)/2, 0)
	y0 := max((maxY-height)/2, 0)

	view, err := gui.SetView(viewForm, x0, y0, x0+width, y0+height, 0)
	if err != nil && !goerrors.Is(err, gocui.ErrUnknownView) {
		return err
	}
	view.Title = u.form.title
	view.Wrap = false
	view.Editable = true
	view.KeybindOnEdit = true
	view.Editor = u.formEditor
	u.renderForm(view)
	_, _ = gui.SetViewOnTop(viewForm)
	_, _ = gui.SetCurrentView(viewForm)
	return nil
}

func (u *UI) renderForm(view *gocui.View) {
	if u.form == nil || view == nil {
		return
	}
	view.Clear()
	for index, field := range u.form.fields {
		prefix := "  "
		if index == u.form.index {
			prefix = "> "
		}
		fmt.Fprintf(view, "%s%s: %s\n", prefix, field.Label, field.display())
	}
	current := u.form.fields[u.form.index]
	cursorX := len([]rune(current.Label)) + len([]rune(current.display())) + 4
	view.SetCursor(cursorX, u.form.index)
}

func (u *UI) nextFormField(_ *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index < len(u.form.fields)-1 {
		u.form.index++
	}
	u.renderForm(view)
	return nil
}

func (u *UI) prevFormField(_ *gocui.Gui, view *gocui.View) error {
	if u.form == nil {
		return nil
	}
	if u.form.index > 0 {
		u.form.index--
	}
	u.renderForm(view)
	return nil
}

func (u *UI) cancelForm(_ *gocui.Gui, _ *gocui.View) error {
	if u.form == nil || u.form.kind == formLogin {
		return nil
	}
	if u.form.kind == formTask {
		u.editor.BeginCreate()
	}
	u.form = nil
	u.status = ""
	return nil
}

func (u *UI) submitForm(_ *gocui.Gui, _ *gocui.View) error {
	if u.form == nil || u.submitting {
		return nil
	}
	switch u.form.kind {
	case formTask:
		u.submitTask()
	case formFilter:
		u.submitFilter()
	case formLogin:
		u.submitLogin()
	}
	return nil
}

func (u *UI) submitTask() {
	form := u.form
	u.editor.SetFields(parseTaskFields(form.fields))
	u.submitting = true
	u.status = ""
	u.async(func() {
		err := u.editor.Submit(u.ctx)
		u.onMain(func() {
			u.submitting = false
			switch {
			case err == nil:
				if u.form == form {
					u.form = nil
				}
			case edit.IsValidation(err):
				u.status = err.Error()
			case errors.Is(err, api.ErrUnauthorized):
			default:
				u.status = u.editor.Err()
			}
		})
	})
}

func (u *UI) submitFilter() {
	criteria, err := parseFilterFields(u.form.fields)
	if err != nil {
		u.status = err.Error()
		return
	}
	u.form = nil
	u.selected = 0
	u.status = ""
	u.run(func() error { return u.coord.SubmitFilter(u.ctx, criteria) })
}

func (u *UI) submitLogin() {
	fields := u.form.fields
	username := strings.TrimSpace(fields[loginFieldUsername].Value)
	password := fields[loginFieldPassword].Value
	register := fields[loginFieldMode].Value == modeRegister
	if username == "" || password == "" {
		u.status = "Username and password are required"
		return
	}

	u.submitting = true
	u.status = ""
	u.async(func() {
		var err error
		if register {
			err = u.coord.Register(u.ctx, username, password)
		}
		if err == nil {
			err = u.coord.Login(u.ctx, username, password)
		}
		u.onMain(func() {
			u.submitting = false
			u.status = loginStatus(err)
		})
	})
}

func loginStatus(err error) string {
	var statusErr *api.StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, api.ErrInvalidCredentials):
		return "Invalid username or password"
	case errors.As(err, &statusErr) && statusErr.Message != "":
		return statusErr.Message
	}
	return "Could not reach the server"
}

func (e *formEditor) Edit(view *gocui.View, key gocui.Key, ch rune, mod gocui.Modifier) bool {
	ui := e.ui
	if ui == nil || ui.form == nil || view == nil {
		return false
	}
	field := &ui.form.fields[ui.form.index]

	if len(field.Choices) > 0 {
		switch key {
		case gocui.KeyArrowRight, gocui.KeySpace:
			cycleChoice(field, 1)
		case gocui.KeyArrowLeft:
			cycleChoice(field, -1)
		}
		ui.renderForm(view)
		return true
	}

	switch key {
	case gocui.KeyBackspace, gocui.KeyBackspace2:
		runes := []rune(field.Value)
		if len(runes) > 0 {
			field.Value = string(runes[:len(runes)-1])
		}
	case gocui.KeySpace:
		field.Value += " "
	case gocui.KeyCtrlU:
		field.Value = ""
	}

	if ch != 0 && ch != '\n' && ch != '\r' && mod == 0 {
		field.Value += string(ch)
	}

	ui.renderForm(view)
	return true
}

func (u *UI) quitUnlessEditing(gui *gocui.Gui, view *gocui.View) error {
	if u.form != nil && u.form.kind != formLogin {
		return nil
	}
	return u.quit(gui, view)
}

func (u *UI) quit(_ *gocui.Gui, _ *gocui.View) error {
	return gocui.ErrQuit
}

func applyViewStyle(view *gocui.View, focused bool) {
	view.Frame = true
	view.Highlight = focused
	view.SelBgColor = gocui.ColorBlue
	view.SelFgColor = gocui.ColorBlack
	if focused {
		view.FrameColor = gocui.ColorCyan
	} else {
		view.FrameColor = gocui.ColorDefault
	}
}
