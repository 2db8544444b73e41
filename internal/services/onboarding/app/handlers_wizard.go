package app

import (
	"net/http"

	apperrors "github.com/emberline/threshold/internal/platform/errors"
	"github.com/emberline/threshold/internal/services/onboarding/reveal"
	"github.com/emberline/threshold/internal/services/onboarding/session"
	"github.com/emberline/threshold/internal/services/onboarding/validate"
	"github.com/emberline/threshold/internal/services/onboarding/wizard"
)

type stepView struct {
	Field   string   `json:"field"`
	Prompt  string   `json:"prompt"`
	Kind    string   `json:"kind"`
	Choices []string `json:"choices,omitempty"`
}

type pendingView struct {
	Choice string   `json:"choice,omitempty"`
	Set    []string `json:"set,omitempty"`
}

type wizardView struct {
	SessionID    string            `json:"session_id"`
	Flow         string            `json:"flow"`
	StepIndex    int               `json:"step_index"`
	Completed    bool              `json:"completed"`
	Step         *stepView         `json:"step,omitempty"`
	Revealed     string            `json:"revealed"`
	Pending      pendingView       `json:"pending"`
	Status       string            `json:"status"`
	FailReason   string            `json:"fail_reason,omitempty"`
	Destination  string            `json:"destination,omitempty"`
	Payload      map[string]string `json:"payload,omitempty"`
	SubjectToken string            `json:"subject_token,omitempty"`
}

func kindLabel(kind validate.Kind) string {
	switch kind {
	case validate.KindEmail:
		return "email"
	case validate.KindName:
		return "name"
	case validate.KindSingleChoice:
		return "single_choice"
	case validate.KindMultiChoice:
		return "multi_choice"
	default:
		return "unknown"
	}
}

func submissionStatusLabel(status wizard.SubmissionStatus) string {
	switch status {
	case wizard.SubmissionSubmitting:
		return "submitting"
	case wizard.SubmissionFailed:
		return "failed"
	case wizard.SubmissionDone:
		return "done"
	default:
		return "idle"
	}
}

func (s *Server) handleWizardStart(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Flow string `json:"flow"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	flow, ok := wizard.FlowByName(body.Flow)
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeWizardUnknownFlow, "unknown flow"))
		return
	}

	sid, err := newSessionID()
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "create session id", err))
		return
	}
	nav := &handoff{}
	recorder := &answerRecorder{
		flow:      flow,
		answers:   s.opts.Answers,
		companies: s.opts.Companies,
		clock:     s.clock,
	}
	engine, err := wizard.NewEngine(flow, reveal.NewDriver(s.opts.RevealInterval), recorder, nav)
	if err != nil {
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "create wizard session", err))
		return
	}

	ws := &wizardSession{
		id:       sid,
		flow:     flow,
		engine:   engine,
		nav:      nav,
		lastSeen: s.clock().UTC(),
	}
	s.mu.Lock()
	s.wizards[sid] = ws
	s.mu.Unlock()

	engine.Start()
	writeJSON(w, http.StatusCreated, s.wizardView(ws))
}

func (s *Server) handleWizardGet(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.wizardSession(r.PathValue("sid"))
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "wizard session not found"))
		return
	}
	writeJSON(w, http.StatusOK, s.wizardView(ws))
}

func (s *Server) handleWizardAnswer(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.wizardSession(r.PathValue("sid"))
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "wizard session not found"))
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := ws.engine.SubmitText(r.Context(), body.Value); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.wizardView(ws))
}

func (s *Server) handleWizardSelect(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.wizardSession(r.PathValue("sid"))
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "wizard session not found"))
		return
	}
	var body struct {
		Choice string `json:"choice"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	step, stepOK := ws.engine.Current()
	var err error
	if stepOK && step.Kind == validate.KindMultiChoice {
		err = ws.engine.ToggleChoice(body.Choice)
	} else {
		err = ws.engine.SelectChoice(body.Choice)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.wizardView(ws))
}

func (s *Server) handleWizardConfirm(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.wizardSession(r.PathValue("sid"))
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "wizard session not found"))
		return
	}
	if err := ws.engine.Confirm(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.wizardView(ws))
}

func (s *Server) handleWizardComplete(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.wizardSession(r.PathValue("sid"))
	if !ok {
		writeError(w, apperrors.New(apperrors.CodeNotFound, "wizard session not found"))
		return
	}
	if err := ws.engine.Complete(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.wizardView(ws))
}

// wizardView snapshots a wizard session for the client. A completed
// talent flow carries a subject token so the linking screen can recover
// the email after a reload.
func (s *Server) wizardView(ws *wizardSession) wizardView {
	view := wizardView{
		SessionID: ws.id,
		Flow:      ws.flow.Name,
		StepIndex: ws.engine.StepIndex(),
		Completed: ws.engine.Completed(),
		Revealed:  ws.engine.Revealed(),
	}
	status, reason := ws.engine.Status()
	view.Status = submissionStatusLabel(status)
	view.FailReason = reason

	if step, ok := ws.engine.Current(); ok {
		view.Step = &stepView{
			Field:   step.Field,
			Prompt:  step.Prompt,
			Kind:    kindLabel(step.Kind),
			Choices: step.Choices,
		}
		choice, set := ws.engine.Pending()
		view.Pending = pendingView{Choice: choice, Set: set}
	}

	if destination, payload, ok := ws.nav.state(); ok {
		view.Destination = destination
		view.Payload = payload
	}

	if status == wizard.SubmissionDone && ws.flow.IdentityField == "email" {
		view.SubjectToken = s.subjectToken(ws)
	}
	return view
}

// subjectToken lazily issues and caches the session's recovery token.
// Token config is optional; without it the view simply omits the token.
func (s *Server) subjectToken(ws *wizardSession) string {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if ws.token != "" {
		return ws.token
	}
	if s.opts.Tokens.Issuer == "" {
		return ""
	}
	answer, ok := ws.engine.Answer(ws.flow.IdentityField)
	if !ok {
		return ""
	}
	token, err := session.Issue(answer.Value, s.opts.Tokens)
	if err != nil {
		return ""
	}
	ws.token = token
	return token
}
