package events

import (
	"github.com/gin-gonic/gin"
	"github.com/ksred/klear-vaults/pkg/response"
)

type GinHandlers struct {
	journal *Journal
}

func NewGinHandlers(j *Journal) *GinHandlers {
	return &GinHandlers{journal: j}
}

// ListEventsHandler returns the event history of a vault, oldest first
func (h *GinHandlers) ListEventsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := h.journal.ListByVault(c.Param("vault"))
		response.Handle(c, records, err)
	}
}
