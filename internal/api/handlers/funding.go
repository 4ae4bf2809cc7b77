package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/perpscan/fundingmon/internal/models"
	"github.com/perpscan/fundingmon/internal/services"
)

// OpportunityProvider is the read interface the funding endpoints consume.
// *services.OpportunityService implements it.
type OpportunityProvider interface {
	GetExchangeOpportunities(ctx context.Context, exchangeName string) (*services.ExchangeFundingSummary, error)
	GetOpportunitiesByExchange(ctx context.Context) (map[string]models.ExchangeOpportunities, time.Time, error)
}

type FundingHandler struct {
	opportunities   OpportunityProvider
	defaultExchange string
}

func NewFundingHandler(opportunities OpportunityProvider, defaultExchange string) *FundingHandler {
	return &FundingHandler{
		opportunities:   opportunities,
		defaultExchange: defaultExchange,
	}
}

// GetFundingRates serves the single-venue view: top long and short
// opportunities by 3-day average funding rate.
func (h *FundingHandler) GetFundingRates(c *gin.Context) {
	exchangeName := c.DefaultQuery("exchange", h.defaultExchange)

	summary, err := h.opportunities.GetExchangeOpportunities(c.Request.Context(), exchangeName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}

// GetFundingRatesByExchange serves per-venue long/short rankings. Venue
// names are top-level keys with a last_updated sibling.
func (h *FundingHandler) GetFundingRatesByExchange(c *gin.Context) {
	grouped, lastUpdated, err := h.opportunities.GetOpportunitiesByExchange(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	response := gin.H{"last_updated": lastUpdated}
	for venue, opportunities := range grouped {
		response[venue] = opportunities
	}

	c.JSON(http.StatusOK, response)
}
