package devserver

import (
	"errors"
	"net/http"

	"dialer-realtime/internal/auth"
	"dialer-realtime/pkg/callsession"

	"github.com/gin-gonic/gin"
)

// handlers stay thin: resolve the caller, call the store, render JSON.
type handlers struct {
	store *Store
}

func (h handlers) listUsers(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	u, err := h.store.User(uid)
	if err != nil {
		fail(c, err)
		return
	}
	// only the caller is visible, with or without current=true
	c.JSON(http.StatusOK, gin.H{"users": []User{u}})
}

func (h handlers) credentials(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	if c.Param("user_id") != uid {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	phone, pin, err := h.store.Credentials(uid)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": gin.H{"inbound_phone": phone, "inbound_pin": pin}})
}

func (h handlers) getSession(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	view, found := h.store.Current(uid)
	if c.Param("id") == "current" {
		if !found {
			c.JSON(http.StatusOK, gin.H{"call_session": nil})
			return
		}
		c.JSON(http.StatusOK, gin.H{"call_session": view})
		return
	}
	if !found || c.Param("id") != idString(view.ID) {
		fail(c, ErrNoSession)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_session": view})
}

type updateSessionRequest struct {
	CallSession struct {
		LeadSelectionMethod callsession.LeadSelectionMethod `json:"lead_selection_method"`
	} `json:"call_session"`
}

func (h handlers) updateSession(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.store.SetLeadSelection(uid, c.Param("id"), req.CallSession.LeadSelectionMethod); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h handlers) action(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	a, err := callsession.ParseAction(c.Param("action"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown action"})
		return
	}
	if err := h.store.Action(uid, c.Param("id"), a); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type submitLeadsRequest struct {
	Leads []callsession.Lead `json:"leads"`
}

func (h handlers) submitLeads(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	var req submitLeadsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if err := h.store.SubmitLeads(uid, c.Param("id"), req.Leads); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"queued": len(req.Leads)})
}

func (h handlers) clearLeads(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	if err := h.store.ClearLeads(uid, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h handlers) answer(c *gin.Context) {
	uid, ok := caller(c)
	if !ok {
		return
	}
	if err := h.store.Answer(uid, c.Param("id"), c.Param("call_id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func caller(c *gin.Context) (string, bool) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return "", false
	}
	return uid, true
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNoSession), errors.Is(err, ErrUnknownCall), errors.Is(err, ErrUnknownUser):
		status = http.StatusNotFound
	case errors.Is(err, ErrSessionActive), errors.Is(err, ErrSessionOffline), errors.Is(err, ErrNoActiveCall):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		status = http.StatusUnprocessableEntity
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}
