package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	depositcalldomain "github.com/brokerdesk/callbonus/internal/depositcall/domain"
)

type createDepositCallRequest struct {
	LeadID         string `json:"lead_id"`
	OrderID        string `json:"order_id"`
	IsCustomRecord bool   `json:"is_custom_record"`
	AccountManager string `json:"account_manager"`
	AssignedAgent  string `json:"assigned_agent"`
	FTDName        string `json:"ftd_name"`
	FTDEmail       string `json:"ftd_email"`
	FTDPhone       string `json:"ftd_phone"`
}

func (s *Server) CreateDepositCall(c *gin.Context) {
	var req createDepositCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	var createReq depositcalldomain.CreateRequest
	if !req.IsCustomRecord {
		leadID, err := parseSnowflakeID(req.LeadID)
		if err != nil {
			AbortWithError(c, newValidationError("lead_id", "invalid_lead_id", "invalid lead_id"))
			return
		}
		createReq.LeadID = leadID
	}

	orderID, err := parseOptionalSnowflakeID(req.OrderID)
	if err != nil {
		AbortWithError(c, newValidationError("order_id", "invalid_order_id", "invalid order_id"))
		return
	}

	createReq.OrderID = orderID
	createReq.IsCustomRecord = req.IsCustomRecord
	createReq.AccountManager = strings.TrimSpace(req.AccountManager)
	createReq.AssignedAgent = strings.TrimSpace(req.AssignedAgent)
	createReq.FTDName = strings.TrimSpace(req.FTDName)
	createReq.FTDEmail = strings.TrimSpace(req.FTDEmail)
	createReq.FTDPhone = strings.TrimSpace(req.FTDPhone)

	resp, err := s.depositCallSvc.Create(c.Request.Context(), createReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListDepositCalls(c *gin.Context) {
	var query struct {
		AccountManager string `form:"account_manager"`
		AssignedAgent  string `form:"assigned_agent"`
		Status         string `form:"status"`
		LeadID         string `form:"lead_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	filter := depositcalldomain.ListFilter{
		AccountManager: strings.TrimSpace(query.AccountManager),
		AssignedAgent:  strings.TrimSpace(query.AssignedAgent),
		Status:         depositcalldomain.Status(strings.TrimSpace(query.Status)),
	}

	leadID, err := parseOptionalSnowflakeID(query.LeadID)
	if err != nil {
		AbortWithError(c, newValidationError("lead_id", "invalid_lead_id", "invalid lead_id"))
		return
	}
	if leadID != nil {
		filter.LeadID = *leadID
	}

	resp, err := s.depositCallSvc.List(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) GetDepositCallByID(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	resp, err := s.depositCallSvc.GetByID(c.Request.Context(), id)
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

type scheduleCallRequest struct {
	ExpectedDate time.Time `json:"expected_date"`
}

func (s *Server) ScheduleCall(c *gin.Context) {
	id, slot, ok := s.slotParams(c)
	if !ok {
		return
	}

	var req scheduleCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.depositCallSvc.ScheduleCall(c.Request.Context(), depositcalldomain.ScheduleRequest{
		ID:           id,
		SlotNumber:   slot,
		ExpectedDate: req.ExpectedDate,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) MarkCallDone(c *gin.Context) {
	s.slotAction(c, s.depositCallSvc.MarkCallDone)
}

func (s *Server) ApproveCall(c *gin.Context) {
	s.slotAction(c, s.depositCallSvc.ApproveCall)
}

func (s *Server) RejectCall(c *gin.Context) {
	s.slotAction(c, s.depositCallSvc.RejectCall)
}

func (s *Server) MarkCallAnswered(c *gin.Context) {
	s.slotAction(c, s.depositCallSvc.MarkCallAnswered)
}

func (s *Server) MarkCallRejected(c *gin.Context) {
	s.slotAction(c, s.depositCallSvc.MarkCallRejected)
}

type updateAssignmentRequest struct {
	AccountManager *string `json:"account_manager"`
	AssignedAgent  *string `json:"assigned_agent"`
}

func (s *Server) UpdateDepositCallAssignment(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req updateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.depositCallSvc.UpdateAssignment(c.Request.Context(), depositcalldomain.AssignRequest{
		ID:             id,
		AccountManager: req.AccountManager,
		AssignedAgent:  req.AssignedAgent,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) CancelDepositCall(c *gin.Context) {
	id, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	resp, err := s.depositCallSvc.Cancel(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListAppointments(c *gin.Context) {
	var query struct {
		Start          string `form:"start"`
		End            string `form:"end"`
		AccountManager string `form:"account_manager"`
		AssignedAgent  string `form:"assigned_agent"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	start, err := parseOptionalTime(query.Start, false)
	if err != nil {
		AbortWithError(c, newValidationError("start", "invalid_start", "invalid start"))
		return
	}
	end, err := parseOptionalTime(query.End, false)
	if err != nil {
		AbortWithError(c, newValidationError("end", "invalid_end", "invalid end"))
		return
	}

	// default to the next seven days
	now := s.clock.Now().UTC()
	if start == nil {
		day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		start = &day
	}
	if end == nil {
		week := start.AddDate(0, 0, 7)
		end = &week
	}

	resp, err := s.depositCallSvc.UpcomingAppointments(
		c.Request.Context(),
		*start,
		*end,
		strings.TrimSpace(query.AccountManager),
		strings.TrimSpace(query.AssignedAgent),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) ListPendingCallApprovals(c *gin.Context) {
	accountManager := strings.TrimSpace(c.Query("account_manager"))

	resp, err := s.depositCallSvc.PendingApprovals(c.Request.Context(), accountManager)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

type slotActionRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) slotAction(c *gin.Context, action func(context.Context, depositcalldomain.SlotActionRequest) (*depositcalldomain.DepositCall, error)) {
	id, slot, ok := s.slotParams(c)
	if !ok {
		return
	}

	var req slotActionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	resp, err := action(c.Request.Context(), depositcalldomain.SlotActionRequest{
		ID:         id,
		SlotNumber: slot,
		Notes:      strings.TrimSpace(req.Notes),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func (s *Server) slotParams(c *gin.Context) (id snowflake.ID, slot int, ok bool) {
	parsedID, err := parseSnowflakeID(c.Param("id"))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return 0, 0, false
	}

	parsedSlot, err := parseSlotNumber(c.Param("slot"))
	if err != nil {
		AbortWithError(c, newValidationError("slot", "invalid_slot", "invalid slot"))
		return 0, 0, false
	}

	return parsedID, parsedSlot, true
}
