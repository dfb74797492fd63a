package handler

import (
	"net/http"

	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/queue"

	"github.com/gin-gonic/gin"
)

type operatorView struct {
	ChatID       string   `json:"chat_id"`
	Name         string   `json:"name"`
	Language     string   `json:"language"`
	Languages    []string `json:"languages"`
	Busy         bool     `json:"busy"`
	SessionEnded bool     `json:"session_ended"`
}

// QueueStats returns the number of waiting users per language.
func (h *Handler) QueueStats(c *gin.Context) {
	snap, err := queue.Snapshot(c.Request.Context(), h.Queues)
	if err != nil {
		h.log.WithError(err).Error("queue snapshot failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read queues"})
		return
	}

	out := make(map[string]int, len(snap))
	total := 0
	for l, n := range snap {
		out[string(l)] = n
		total += n
	}
	c.JSON(http.StatusOK, gin.H{"queues": out, "total": total})
}

// OperatorList returns the live operators with their availability flags.
func (h *Handler) OperatorList(c *gin.Context) {
	ops, err := h.Directory.ListOperators(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("list operators failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list operators"})
		return
	}

	out := make([]operatorView, 0, len(ops))
	for _, op := range ops {
		out = append(out, operatorView{
			ChatID:       op.ChatID,
			Name:         op.Name,
			Language:     string(op.Language),
			Languages:    language.Strings(op.ServedLanguages()),
			Busy:         op.Busy,
			SessionEnded: op.SessionEnded,
		})
	}
	c.JSON(http.StatusOK, gin.H{"operators": out})
}
