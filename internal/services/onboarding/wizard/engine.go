// Package wizard sequences onboarding questions, validates answers, and
// persists the finalized record when the last step is committed.
package wizard

import (
	"context"
	"errors"
	"strings"
	"sync"

	apperrors "github.com/emberline/threshold/internal/platform/errors"
	"github.com/emberline/threshold/internal/platform/timeouts"
	"github.com/emberline/threshold/internal/services/onboarding/reveal"
	"github.com/emberline/threshold/internal/services/onboarding/validate"
)

// SubmissionStatus tracks the final persistence hand-off of a flow.
type SubmissionStatus int

const (
	// SubmissionIdle means the flow has not attempted completion yet.
	SubmissionIdle SubmissionStatus = iota
	// SubmissionSubmitting means the finalized answers are being recorded.
	SubmissionSubmitting
	// SubmissionFailed means recording or navigation failed; retry is allowed.
	SubmissionFailed
	// SubmissionDone means the record persisted and navigation happened.
	SubmissionDone
)

// Answer is one finalized step value. Value carries free-text and
// single-choice answers; Choices carries multi-choice answers.
type Answer struct {
	Field   string
	Value   string
	Choices []string
}

// Recorder durably persists finalized answers keyed by the flow's
// identity field. Upserts must be idempotent so completion retries never
// create duplicate records.
type Recorder interface {
	RecordAnswers(ctx context.Context, identity string, answers []Answer) error
}

// Navigator hands control to the next screen with the finalized payload.
type Navigator interface {
	Go(ctx context.Context, destination string, payload map[string]string) error
}

// Engine runs one wizard session. Events (user actions and port replies)
// are serialized through an internal mutex, so no two events ever mutate
// the session concurrently.
type Engine struct {
	flow     Flow
	driver   *reveal.Driver
	recorder Recorder
	nav      Navigator

	mu            sync.Mutex
	current       int
	pendingChoice string
	pendingSet    []string
	answers       []Answer
	status        SubmissionStatus
	failReason    string
	revealed      string
	revealGen     int
	closed        bool
}

// NewEngine builds a session for flow. The session starts at step 0;
// call Start to begin the prompt reveal.
func NewEngine(flow Flow, driver *reveal.Driver, recorder Recorder, nav Navigator) (*Engine, error) {
	if len(flow.Steps) == 0 {
		return nil, errors.New("flow requires at least one step")
	}
	if strings.TrimSpace(flow.IdentityField) == "" {
		return nil, errors.New("flow requires an identity field")
	}
	if driver == nil || recorder == nil || nav == nil {
		return nil, errors.New("driver, recorder, and navigator are required")
	}
	return &Engine{
		flow:     flow,
		driver:   driver,
		recorder: recorder,
		nav:      nav,
	}, nil
}

// Start begins revealing the intro (when present) followed by the first
// prompt. A user action that advances the flow cancels whatever is still
// revealing.
func (e *Engine) Start() {
	if e.flow.Intro != "" {
		e.playReveal(e.flow.Intro, func() {
			e.playReveal(e.flow.Steps[0].Prompt, nil)
		})
		return
	}
	e.playReveal(e.flow.Steps[0].Prompt, nil)
}

// Current returns the active step. ok is false once the flow completed.
func (e *Engine) Current() (step Step, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current >= len(e.flow.Steps) {
		return Step{}, false
	}
	return e.flow.Steps[e.current], true
}

// StepIndex returns the active step index; len(steps) once completed.
func (e *Engine) StepIndex() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Completed reports whether every step received a valid submission.
func (e *Engine) Completed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current >= len(e.flow.Steps)
}

// Revealed returns the currently disclosed portion of the active prompt.
func (e *Engine) Revealed() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revealed
}

// Status returns the submission status and, when failed, the reason.
func (e *Engine) Status() (SubmissionStatus, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status, e.failReason
}

// Answers returns a copy of the finalized answers in step order.
func (e *Engine) Answers() []Answer {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Answer, len(e.answers))
	copy(out, e.answers)
	return out
}

// Answer returns the finalized answer for field.
func (e *Engine) Answer(field string) (Answer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, answer := range e.answers {
		if answer.Field == field {
			return answer, true
		}
	}
	return Answer{}, false
}

// Payload flattens the finalized answers for the navigation hand-off.
func (e *Engine) Payload() map[string]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.payloadLocked()
}

func (e *Engine) payloadLocked() map[string]string {
	payload := make(map[string]string, len(e.answers))
	for _, answer := range e.answers {
		if len(answer.Choices) > 0 {
			payload[answer.Field] = strings.Join(answer.Choices, ", ")
			continue
		}
		payload[answer.Field] = answer.Value
	}
	return payload
}

// SubmitText validates and commits a free-text answer for the active
// step. Validation failure leaves the session untouched.
func (e *Engine) SubmitText(ctx context.Context, raw string) error {
	e.mu.Lock()
	step, err := e.activeStepLocked()
	if err != nil {
		e.mu.Unlock()
		return err
	}

	var value string
	switch step.Kind {
	case validate.KindEmail:
		value, err = validate.Email(raw)
	case validate.KindName:
		value, err = validate.Name(raw)
	default:
		err = apperrors.New(apperrors.CodeWizardStepKind, "step expects a choice, not free text")
	}
	if err != nil {
		e.mu.Unlock()
		return err
	}
	return e.commitLocked(ctx, Answer{Field: step.Field, Value: value})
}

// SelectChoice records a tentative selection on a single-choice step.
// The step transitions only on Confirm, so the user may change their
// mind before committing.
func (e *Engine) SelectChoice(label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	step, err := e.activeStepLocked()
	if err != nil {
		return err
	}
	if step.Kind != validate.KindSingleChoice {
		return apperrors.New(apperrors.CodeWizardStepKind, "step is not single-choice")
	}
	e.pendingChoice = label
	return nil
}

// ToggleChoice flips a tentative selection on a multi-choice step.
func (e *Engine) ToggleChoice(label string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	step, err := e.activeStepLocked()
	if err != nil {
		return err
	}
	if step.Kind != validate.KindMultiChoice {
		return apperrors.New(apperrors.CodeWizardStepKind, "step is not multi-choice")
	}
	for i, selected := range e.pendingSet {
		if selected == label {
			e.pendingSet = append(e.pendingSet[:i], e.pendingSet[i+1:]...)
			return nil
		}
	}
	e.pendingSet = append(e.pendingSet, label)
	return nil
}

// Pending returns the tentative selection state for the active step.
func (e *Engine) Pending() (choice string, set []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	set = make([]string, len(e.pendingSet))
	copy(set, e.pendingSet)
	return e.pendingChoice, set
}

// Confirm validates and commits the tentative selection of a choice
// step. Validation failure leaves the selection and session untouched.
func (e *Engine) Confirm(ctx context.Context) error {
	e.mu.Lock()
	step, err := e.activeStepLocked()
	if err != nil {
		e.mu.Unlock()
		return err
	}

	var answer Answer
	switch step.Kind {
	case validate.KindSingleChoice:
		value, verr := validate.SingleChoice(e.pendingChoice, step.Choices)
		if verr != nil {
			e.mu.Unlock()
			return verr
		}
		answer = Answer{Field: step.Field, Value: value}
	case validate.KindMultiChoice:
		values, verr := validate.MultiChoice(e.pendingSet, step.Choices)
		if verr != nil {
			e.mu.Unlock()
			return verr
		}
		answer = Answer{Field: step.Field, Choices: values}
	default:
		e.mu.Unlock()
		return apperrors.New(apperrors.CodeWizardStepKind, "step expects free text, not a choice")
	}
	return e.commitLocked(ctx, answer)
}

// Complete retries the final persistence and navigation hand-off after a
// failure. Answers are kept, so the user never re-answers questions.
func (e *Engine) Complete(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return apperrors.New(apperrors.CodeWizardSessionClosed, "session is closed")
	}
	if e.current < len(e.flow.Steps) {
		e.mu.Unlock()
		return apperrors.New(apperrors.CodeWizardNotCompleted, "steps remain unanswered")
	}
	switch e.status {
	case SubmissionSubmitting:
		e.mu.Unlock()
		return apperrors.New(apperrors.CodeAlreadyInProgress, "completion already submitting")
	case SubmissionDone:
		e.mu.Unlock()
		return apperrors.New(apperrors.CodeWizardCompleted, "flow already completed")
	}
	return e.completeFromLocked(ctx)
}

// Close tears down the session. In-flight reveals are cancelled and any
// late port replies are discarded rather than applied.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.revealGen++
	e.mu.Unlock()
	e.driver.Cancel()
}

func (e *Engine) activeStepLocked() (Step, error) {
	if e.closed {
		return Step{}, apperrors.New(apperrors.CodeWizardSessionClosed, "session is closed")
	}
	if e.current >= len(e.flow.Steps) {
		return Step{}, apperrors.New(apperrors.CodeWizardCompleted, "flow already completed")
	}
	return e.flow.Steps[e.current], nil
}

// commitLocked finalizes an answer and advances. It expects e.mu held
// and releases it.
func (e *Engine) commitLocked(ctx context.Context, answer Answer) error {
	e.answers = append(e.answers, answer)
	e.pendingChoice = ""
	e.pendingSet = nil

	if e.current == len(e.flow.Steps)-1 {
		e.current = len(e.flow.Steps)
		return e.completeFromLocked(ctx)
	}

	e.current++
	prompt := e.flow.Steps[e.current].Prompt
	e.mu.Unlock()
	e.playReveal(prompt, nil)
	return nil
}

// completeFromLocked persists the finalized answers and navigates. It
// expects e.mu held and releases it around the port calls; replies that
// arrive after Close are discarded.
func (e *Engine) completeFromLocked(ctx context.Context) error {
	e.status = SubmissionSubmitting
	e.failReason = ""

	var identity string
	for _, answer := range e.answers {
		if answer.Field == e.flow.IdentityField {
			identity = answer.Value
		}
	}
	answers := make([]Answer, len(e.answers))
	copy(answers, e.answers)
	payload := e.payloadLocked()
	e.mu.Unlock()

	if strings.TrimSpace(identity) == "" {
		return e.failCompletion(apperrors.New(apperrors.CodeWizardSubjectMissing, "identity answer is missing"))
	}

	persistCtx, cancel := context.WithTimeout(ctx, timeouts.Persist)
	err := e.recorder.RecordAnswers(persistCtx, identity, answers)
	cancel()
	if err != nil {
		return e.failCompletion(apperrors.Wrap(apperrors.CodePersistence, "record answers", err))
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	if err := e.nav.Go(ctx, e.flow.Destination, payload); err != nil {
		return e.failCompletion(apperrors.Wrap(apperrors.CodeUnknown, "navigate after completion", err))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.status = SubmissionDone
	return nil
}

// failCompletion records a failed completion attempt unless the session
// already tore down.
func (e *Engine) failCompletion(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.status = SubmissionFailed
	e.failReason = err.Error()
	return err
}

// playReveal starts revealing text and mirrors each prefix into the
// session state. then runs after an uninterrupted full reveal.
func (e *Engine) playReveal(text string, then func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.revealGen++
	gen := e.revealGen
	e.revealed = ""
	e.mu.Unlock()

	prefixes := e.driver.Start(text)
	go func() {
		for prefix := range prefixes {
			e.mu.Lock()
			if e.closed || e.revealGen != gen {
				e.mu.Unlock()
				continue
			}
			e.revealed = prefix
			e.mu.Unlock()
		}
		if then == nil {
			return
		}
		e.mu.Lock()
		stale := e.closed || e.revealGen != gen || e.revealed != text
		e.mu.Unlock()
		if !stale {
			then()
		}
	}()
}
