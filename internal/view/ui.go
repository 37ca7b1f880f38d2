// Package view holds the per-browser UI state machines and renders the
// pages from store snapshots.
package view

import (
	"context"
	"errors"
	"sync"

	"github.com/starford/catnip/internal/apperr"
	"github.com/starford/catnip/internal/models"
)

// Texts shown to the user.
const (
	MsgFillFields    = "Please fill in all fields"
	MsgCheckEmail    = "Check your email for the confirmation link!"
	MsgUnexpected    = "An unexpected error occurred"
	MsgConfirmDelete = "Are you sure you want to delete this cat?"
)

// Auth is the part of the session holder the auth form and sign-out use.
type Auth interface {
	SignUp(ctx context.Context, email, password string) (*models.User, error)
	SignIn(ctx context.Context, email, password string) (*models.Session, error)
	SignOut(ctx context.Context) error
}

// Records is the part of the record store the list editor uses.
type Records interface {
	Add(ctx context.Context, draft models.CatDraft) (*models.Cat, error)
	Update(ctx context.Context, id string, patch models.CatPatch) (*models.Cat, error)
	Delete(ctx context.Context, id string) error
}

// UIState is the transient state of one browser's forms. It is never
// persisted.
type UIState struct {
	// Auth form.
	SignUpMode  bool   `json:"sign_up_mode"`
	AuthMessage string `json:"auth_message,omitempty"`
	AuthBusy    bool   `json:"auth_busy"`
	Email       string `json:"email,omitempty"`

	// Record list.
	AddOpen         bool    `json:"add_open"`
	AddDraft        CatForm `json:"add_draft"`
	EditingID       string  `json:"editing_id,omitempty"`
	EditDraft       CatForm `json:"edit_draft"`
	ConfirmDeleteID string  `json:"confirm_delete_id,omitempty"`
	Notice          string  `json:"notice,omitempty"`
}

// UI guards a UIState. Store calls run without the lock held.
type UI struct {
	mu sync.Mutex
	st UIState
}

// NewUI returns the initial state: sign-in mode, list in viewing mode.
func NewUI() *UI {
	return &UI{}
}

// Snapshot returns a copy of the state.
func (u *UI) Snapshot() UIState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.st
}

func (u *UI) update(fn func(st *UIState)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	fn(&u.st)
}

// ToggleAuthMode switches between sign-in and sign-up and clears the
// message.
func (u *UI) ToggleAuthMode() {
	u.update(func(st *UIState) {
		st.SignUpMode = !st.SignUpMode
		st.AuthMessage = ""
	})
}

// SubmitAuth signs up or in depending on the mode.
func (u *UI) SubmitAuth(ctx context.Context, auth Auth, email, password string) {
	form := authForm{Email: email, Password: password}
	if err := form.Validate(); err != nil {
		u.update(func(st *UIState) {
			st.Email = email
			st.AuthMessage = MsgFillFields
		})
		return
	}

	var signUp bool
	u.update(func(st *UIState) {
		signUp = st.SignUpMode
		st.Email = email
		st.AuthMessage = ""
		st.AuthBusy = true
	})

	msg := submitAuth(ctx, auth, signUp, email, password)

	u.update(func(st *UIState) {
		st.AuthBusy = false
		st.AuthMessage = msg
	})
}

// submitAuth returns the message to show after the call.
func submitAuth(ctx context.Context, auth Auth, signUp bool, email, password string) (msg string) {
	defer func() {
		if recover() != nil {
			msg = MsgUnexpected
		}
	}()

	var err error
	if signUp {
		_, err = auth.SignUp(ctx, email, password)
	} else {
		_, err = auth.SignIn(ctx, email, password)
	}
	switch {
	case err != nil:
		return errorText(err)
	case signUp:
		return MsgCheckEmail
	}
	return ""
}

// SignOut ends the session. A failure is shown as a list notice.
func (u *UI) SignOut(ctx context.Context, auth Auth) {
	if err := auth.SignOut(ctx); err != nil {
		u.setNotice("Could not sign out: " + errorText(err))
	}
}

// ToggleAddForm opens or closes the add form.
func (u *UI) ToggleAddForm() {
	u.update(func(st *UIState) {
		st.AddOpen = !st.AddOpen
		st.Notice = ""
	})
}

// SubmitAdd validates form and adds the cat. On success the draft is reset
// and the form closes; otherwise the form keeps its input and a notice
// explains the failure.
func (u *UI) SubmitAdd(ctx context.Context, recs Records, form CatForm) {
	draft, err := form.Draft()
	if err != nil {
		u.update(func(st *UIState) {
			st.AddDraft = form
			st.Notice = "Please check the cat details: " + err.Error()
		})
		return
	}
	u.update(func(st *UIState) {
		st.AddDraft = form
		st.Notice = ""
	})

	if _, err := recs.Add(ctx, draft); err != nil {
		u.setNotice("Could not add cat: " + errorText(err))
		return
	}
	u.update(func(st *UIState) {
		st.AddDraft = CatForm{}
		st.AddOpen = false
	})
}

// StartEdit copies c into the edit draft.
func (u *UI) StartEdit(c models.Cat) {
	u.update(func(st *UIState) {
		st.EditingID = c.ID
		st.EditDraft = FormFromCat(c)
		st.ConfirmDeleteID = ""
		st.Notice = ""
	})
}

// SaveEdit validates form and updates the cat being edited. Edit mode ends
// once the update has been attempted.
func (u *UI) SaveEdit(ctx context.Context, recs Records, id string, form CatForm) {
	var editing string
	u.update(func(st *UIState) { editing = st.EditingID })
	if editing == "" || editing != id {
		return
	}

	draft, err := form.Draft()
	if err != nil {
		u.update(func(st *UIState) {
			st.EditDraft = form
			st.Notice = "Please check the cat details: " + err.Error()
		})
		return
	}

	_, err = recs.Update(ctx, id, models.PatchFromDraft(draft))
	u.update(func(st *UIState) {
		st.EditingID = ""
		st.EditDraft = CatForm{}
		st.Notice = ""
		if err != nil {
			st.Notice = "Could not update cat: " + errorText(err)
		}
	})
}

// CancelEdit leaves edit mode.
func (u *UI) CancelEdit() {
	u.update(func(st *UIState) {
		st.EditingID = ""
		st.EditDraft = CatForm{}
	})
}

// RequestDelete asks for confirmation before deleting id.
func (u *UI) RequestDelete(id string) {
	u.update(func(st *UIState) {
		st.ConfirmDeleteID = id
		st.Notice = ""
	})
}

// CancelDelete drops a pending confirmation.
func (u *UI) CancelDelete() {
	u.update(func(st *UIState) { st.ConfirmDeleteID = "" })
}

// ConfirmDelete deletes id if it is the cat awaiting confirmation.
func (u *UI) ConfirmDelete(ctx context.Context, recs Records, id string) {
	var pending bool
	u.update(func(st *UIState) {
		pending = st.ConfirmDeleteID == id
		st.ConfirmDeleteID = ""
	})
	if !pending {
		return
	}
	if err := recs.Delete(ctx, id); err != nil {
		u.setNotice("Could not delete cat: " + errorText(err))
	}
}

// ResetList returns the record list to viewing mode, e.g. after sign-out.
func (u *UI) ResetList() {
	u.update(func(st *UIState) {
		st.AddOpen = false
		st.AddDraft = CatForm{}
		st.EditingID = ""
		st.EditDraft = CatForm{}
		st.ConfirmDeleteID = ""
		st.Notice = ""
	})
}

func (u *UI) setNotice(msg string) {
	u.update(func(st *UIState) { st.Notice = msg })
}

// errorText returns what the user sees for err.
func errorText(err error) string {
	if msg, ok := apperr.Message(err); ok {
		return msg
	}
	switch {
	case errors.Is(err, apperr.ErrUnauthenticated):
		return "User not authenticated"
	case errors.Is(err, apperr.ErrNotFound):
		return "Cat not found"
	}
	return MsgUnexpected
}
