package server

import (
	"bytes"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-go-golems/llm-eval/pkg/conversation"
	"github.com/go-go-golems/llm-eval/pkg/session"
	"github.com/pkg/errors"
)

// JSONLContentType is the content type of exported records.
const JSONLContentType = "application/jsonl+json"

type sessionView struct {
	RecordID      string                       `json:"record_id"`
	User          string                       `json:"user"`
	Title         string                       `json:"title"`
	Admin         bool                         `json:"admin"`
	State         string                       `json:"state"`
	Conversations []*conversation.Conversation `json:"conversations"`
}

func newSessionView(s *session.Session) sessionView {
	snap := s.Snapshot()
	rec := snap.Record
	return sessionView{
		RecordID:      rec.ID,
		User:          rec.User,
		Title:         rec.Title,
		Admin:         snap.Admin,
		State:         snap.State.String(),
		Conversations: rec.Conversations,
	}
}

type turnView struct {
	*session.TurnResult
	State   string      `json:"state"`
	Session sessionView `json:"session"`
}

func newTurnView(s *session.Session, t *session.TurnResult) turnView {
	return turnView{TurnResult: t, State: t.State.String(), Session: newSessionView(s)}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conversation.ErrNothingToRegenerate):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrMalformedRecord):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *Server) handleModels(c *gin.Context) {
	r := s.app.Encoder.Registry()
	c.JSON(http.StatusOK, gin.H{
		"models":   r.Models(),
		"friendly": r.FriendlyNames(),
		"default":  s.app.DefaultModels(),
	})
}

func (s *Server) handleUsers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"users": s.app.Store.ListUsers()})
}

func (s *Server) handleUserRecords(c *gin.Context) {
	user := c.Param("user")
	if !s.mayAccess(c, user) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not your records"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":    user,
		"records": s.app.Store.ListConversationsByUser(user),
		"stats":   s.app.Store.Stats(&user),
	})
}

func (s *Server) recordFor(c *gin.Context, id string) (*conversation.Record, bool) {
	rec, err := s.app.Store.GetByID(id)
	if err != nil {
		abortWithError(c, statusFor(err), err)
		return nil, false
	}
	if !s.mayAccess(c, rec.User) {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not your record"})
		return nil, false
	}
	return rec, true
}

// handleRecord renders a record as json (default), markdown or html.
func (s *Server) handleRecord(c *gin.Context) {
	rec, ok := s.recordFor(c, c.Param("id"))
	if !ok {
		return
	}
	switch c.DefaultQuery("format", "json") {
	case "markdown":
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(conversation.RecordToMarkdown(rec)))
	case "html":
		html, err := conversation.RecordToHTML(rec)
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
	default:
		c.JSON(http.StatusOK, rec)
	}
}

func (s *Server) handleDeleteRecord(c *gin.Context) {
	if err := s.app.Store.Delete(c.Param("id"), true); err != nil {
		abortWithError(c, statusFor(err), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleExport streams records as a JSONL download: the ids given, or all
// records of a user. Without parameters the caller's records are exported.
func (s *Server) handleExport(c *gin.Context) {
	var buf bytes.Buffer
	ids := c.QueryArray("id")
	if len(ids) > 0 {
		for _, id := range ids {
			if _, ok := s.recordFor(c, id); !ok {
				return
			}
		}
		if err := s.app.Store.Export(&buf, ids...); err != nil {
			abortWithError(c, statusFor(err), err)
			return
		}
	} else {
		user := c.DefaultQuery("user", c.GetString(userKey))
		if !s.mayAccess(c, user) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not your records"})
			return
		}
		if err := s.app.Store.ExportUser(&buf, user); err != nil {
			abortWithError(c, statusFor(err), err)
			return
		}
	}
	c.Header("Content-Disposition", `attachment; filename="conversations.jsonl"`)
	c.Data(http.StatusOK, JSONLContentType, buf.Bytes())
}

func (s *Server) withSession(f func(c *gin.Context, cs *chatSession)) gin.HandlerFunc {
	return func(c *gin.Context) {
		cs, err := s.chatSession(c)
		if err != nil {
			abortWithError(c, http.StatusInternalServerError, err)
			return
		}
		f(c, cs)
	}
}

func (s *Server) handleGetSession(c *gin.Context) {
	s.withSession(func(c *gin.Context, cs *chatSession) {
		c.JSON(http.StatusOK, newSessionView(cs.Session))
	})(c)
}

type chatRequest struct {
	Input string `json:"input" binding:"required"`
}

func (s *Server) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	s.withSession(func(c *gin.Context, cs *chatSession) {
		res, err := cs.Submit(c.Request.Context(), req.Input)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		c.JSON(http.StatusOK, newTurnView(cs.Session, res))
	})(c)
}

func (s *Server) handleRegenerate(c *gin.Context) {
	s.withSession(func(c *gin.Context, cs *chatSession) {
		res, err := cs.Regenerate(c.Request.Context())
		if err != nil {
			abortWithError(c, statusFor(err), err)
			return
		}
		c.JSON(http.StatusOK, newTurnView(cs.Session, res))
	})(c)
}

func (s *Server) handleClear(c *gin.Context) {
	s.withSession(func(c *gin.Context, cs *chatSession) {
		cs.Clear()
		c.JSON(http.StatusOK, newSessionView(cs.Session))
	})(c)
}

type modelsRequest struct {
	Configs []conversation.ModelConfig `json:"configs" binding:"required,min=1"`
}

// handleSetModels replaces the model configurations of the session panes.
// Changing the number of panes starts a fresh session.
func (s *Server) handleSetModels(c *gin.Context) {
	var req modelsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	s.withSession(func(c *gin.Context, cs *chatSession) {
		for i := range req.Configs {
			req.Configs[i].Model = s.app.Encoder.Registry().Resolve(req.Configs[i].Model)
			if _, err := s.app.Encoder.Registry().FamilyOf(req.Configs[i].Model); err != nil {
				abortWithError(c, http.StatusBadRequest, err)
				return
			}
		}
		if err := cs.Reconfigure(req.Configs...); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		c.JSON(http.StatusOK, newSessionView(cs.Session))
	})(c)
}

type feedbackRequest struct {
	Pane     int   `json:"pane"`
	Positive *bool `json:"positive" binding:"required"`
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	s.withSession(func(c *gin.Context, cs *chatSession) {
		if err := cs.RecordFeedback(c.Request.Context(), req.Pane, *req.Positive); err != nil {
			abortWithError(c, http.StatusBadRequest, err)
			return
		}
		c.JSON(http.StatusOK, newSessionView(cs.Session))
	})(c)
}

type titleRequest struct {
	Title string `json:"title"`
	Model string `json:"model"`
}

// handleTitle sets the session title, or generates one from the last input
// when none is given.
func (s *Server) handleTitle(c *gin.Context) {
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	s.withSession(func(c *gin.Context, cs *chatSession) {
		if req.Title != "" {
			cs.SetTitle(req.Title)
		} else {
			lastInput := cs.Snapshot().LastInput
			if lastInput == "" {
				c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "nothing to summarize yet"})
				return
			}
			if _, err := cs.GenerateTitle(c.Request.Context(), req.Model, lastInput); err != nil {
				abortWithError(c, http.StatusBadGateway, err)
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"title": cs.Export().Title})
	})(c)
}

func (s *Server) handleSave(c *gin.Context) {
	s.withSession(func(c *gin.Context, cs *chatSession) {
		rec, err := cs.Save(s.app.Store, true)
		if err != nil {
			abortWithError(c, statusFor(err), err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": rec.ID, "title": rec.Title})
	})(c)
}

func (s *Server) handleLoad(c *gin.Context) {
	rec, ok := s.recordFor(c, c.Param("id"))
	if !ok {
		return
	}
	s.withSession(func(c *gin.Context, cs *chatSession) {
		if err := cs.Load(rec); err != nil {
			abortWithError(c, http.StatusForbidden, err)
			return
		}
		c.JSON(http.StatusOK, newSessionView(cs.Session))
	})(c)
}

type scoreRequest struct {
	Pane  int    `json:"pane"`
	Model string `json:"model"`
}

// handleScore asks a judge model to rate the last exchange of a pane.
func (s *Server) handleScore(c *gin.Context) {
	var req scoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	s.withSession(func(c *gin.Context, cs *chatSession) {
		models := cs.Models()
		if req.Pane < 0 || req.Pane >= len(models) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "no such pane"})
			return
		}
		interaction, err := cs.Interaction(c.Request.Context(), req.Pane)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, session.ErrNothingToScore) {
				status = http.StatusConflict
			}
			abortWithError(c, status, err)
			return
		}
		model := req.Model
		if model == "" {
			model = models[req.Pane]
		}
		scores, err := s.app.Scorer(model).Score(c.Request.Context(), interaction)
		resp := gin.H{"scores": scores}
		if err != nil {
			resp["error"] = err.Error()
		}
		c.JSON(http.StatusOK, resp)
	})(c)
}
