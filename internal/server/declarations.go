package server

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	"github.com/brokerdesk/callbonus/internal/calltype"
	declarationdomain "github.com/brokerdesk/callbonus/internal/declaration/domain"
	"github.com/brokerdesk/callbonus/internal/reversal"
)

type createDeclarationRequest struct {
	LeadID           string `json:"lead_id"`
	OrderID          string `json:"order_id"`
	DepositCallID    string `json:"deposit_call_id"`
	AffiliateManager string `json:"affiliate_manager"`

	CDRCallID         string    `json:"cdr_call_id"`
	CallDate          time.Time `json:"call_date"`
	CallDuration      int64     `json:"call_duration"`
	SourceNumber      string    `json:"source_number"`
	DestinationNumber string    `json:"destination_number"`
	LineNumber        string    `json:"line_number"`
	CallType          string    `json:"call_type"`
	CallCategory      string    `json:"call_category"`
	Description       string    `json:"description"`
	RecordFile        string    `json:"record_file"`
}

func (s *Server) CreateDeclaration(c *gin.Context) {
	var req createDeclarationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	leadID, err := parseSnowflakeID(req.LeadID)
	if err != nil {
		AbortWithError(c, newValidationError("lead_id", "invalid_lead_id", "invalid lead_id"))
		return
	}

	orderID, err := parseOptionalSnowflakeID(req.OrderID)
	if err != nil {
		AbortWithError(c, newValidationError("order_id", "invalid_order_id", "invalid order_id"))
		return
	}

	depositCallID, err := parseOptionalSnowflakeID(req.DepositCallID)
	if err != nil {
		AbortWithError(c, newValidationError("deposit_call_id", "invalid_deposit_call_id", "invalid deposit_call_id"))
		return
	}

	category, err := calltype.ParseCategory(strings.TrimSpace(req.CallCategory))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var callType calltype.Type
	if trimmed := strings.TrimSpace(req.CallType); trimmed != "" {
		callType, err = calltype.Parse(trimmed)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	resp, err := s.declarationSvc.Create(c.Request.Context(), declarationdomain.CreateRequest{
		LeadID:           leadID,
		OrderID:          orderID,
		DepositCallID:    depositCallID,
		AffiliateManager: strings.TrimSpace(req.AffiliateManager),

		CDRCallID:         strings.TrimSpace(req.CDRCallID),
		CallDate:          req.CallDate,
		CallDuration:      req.CallDuration,
		SourceNumber:      strings.TrimSpace(req.SourceNumber),
		DestinationNumber: strings.TrimSpace(req.DestinationNumber),
		LineNumber:        strings.TrimSpace(req.LineNumber),
		CallType:          callType,
		CallCategory:      category,
		Description:       strings.TrimSpace(req.Description),
		RecordFile:        strings.TrimSpace(req.RecordFile),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListDeclarations(c *gin.Context) {
	var query struct {
		AgentID          string `form:"agent_id"`
		AffiliateManager string `form:"affiliate_manager"`
		Status           string `form:"status"`
		Category         string `form:"category"`
		Month            string `form:"month"`
		Year             string `form:"year"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	filter := declarationdomain.ListFilter{
		AgentID:          strings.TrimSpace(query.AgentID),
		AffiliateManager: strings.TrimSpace(query.AffiliateManager),
		Status:           declarationdomain.Status(strings.TrimSpace(query.Status)),
		Category:         calltype.Category(strings.TrimSpace(query.Category)),
	}

	if query.Month != "" || query.Year != "" {
		month, year, err := parsePeriod(query.Month, query.Year, s.clock.Now())
		if err != nil {
			AbortWithError(c, newValidationError("month", "invalid_period", "invalid month/year"))
			return
		}
		filter.Month = month
		filter.Year = year
	}

	resp, err := s.declarationSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDeclarationByID(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	resp, err := s.declarationSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if resp == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPendingDeclarations(c *gin.Context) {
	resp, err := s.declarationSvc.PendingForReviewer(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type reviewDeclarationRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) ApproveDeclaration(c *gin.Context) {
	s.reviewDeclaration(c, s.declarationSvc.Approve)
}

func (s *Server) RejectDeclaration(c *gin.Context) {
	s.reviewDeclaration(c, s.declarationSvc.Reject)
}

func (s *Server) reviewDeclaration(c *gin.Context, review func(ctx context.Context, req declarationdomain.ReviewRequest) (*declarationdomain.Declaration, error)) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req reviewDeclarationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := review(c.Request.Context(), declarationdomain.ReviewRequest{
		ID:    id,
		Notes: strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) DeleteDeclaration(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	if err := s.declarationSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"deleted": true}})
}

type reverseDeclarationRequest struct {
	DryRun                   bool `json:"dry_run"`
	ResetDepositConfirmation bool `json:"reset_deposit_confirmation"`
}

// ReverseDeclaration unwinds one approved declaration in place: ledger rows
// subtracted, the completed slot reset, the declaration deactivated. The
// batch CLI does the same over whole payroll periods.
func (s *Server) ReverseDeclaration(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req reverseDeclarationRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	var report bytes.Buffer
	summary, err := s.reversalEngine.Run(
		c.Request.Context(),
		reversal.Scope{IDs: []snowflake.ID{id}},
		reversal.Options{DryRun: req.DryRun, ResetDepositConfirmation: req.ResetDepositConfirmation},
		&report,
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if summary.Failures > 0 {
		AbortWithError(c, ErrInternal)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"summary": summary,
		"report":  report.String(),
	}})
}

func (s *Server) GetBonusSummary(c *gin.Context) {
	var query struct {
		AgentID string `form:"agent_id"`
		Month   string `form:"month"`
		Year    string `form:"year"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	month, year, err := parsePeriod(query.Month, query.Year, s.clock.Now())
	if err != nil {
		AbortWithError(c, newValidationError("month", "invalid_period", "invalid month/year"))
		return
	}

	agentID := strings.TrimSpace(query.AgentID)
	if agentID == "" {
		resp, err := s.declarationSvc.AllAgentsMonthlyTotals(c.Request.Context(), month, year)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": resp})
		return
	}

	resp, err := s.declarationSvc.MonthlyTotals(c.Request.Context(), agentID, month, year)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) PreviewBonus(c *gin.Context) {
	var query struct {
		CallType        string `form:"call_type"`
		CallCategory    string `form:"call_category"`
		DurationSeconds int64  `form:"duration_seconds"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	category, err := calltype.ParseCategory(strings.TrimSpace(query.CallCategory))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var callType calltype.Type
	if trimmed := strings.TrimSpace(query.CallType); trimmed != "" {
		callType, err = calltype.Parse(trimmed)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	bonus, err := s.declarationSvc.PreviewBonus(c.Request.Context(), callType, category, query.DurationSeconds)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"base_bonus":   bonus.Base,
		"hourly_bonus": bonus.Hourly,
		"total_bonus":  bonus.Total,
	}})
}
