package model

import (
	"strconv"
	"time"
)

// ReportStatus is the disposition of a filed report. The Safety Layer
// only writes Pending; Reviewed/Resolved exist for an eventual moderation
// surface and are accepted values today even though nothing transitions
// into them yet.
type ReportStatus string

const (
	ReportStatusPending  ReportStatus = "pending"
	ReportStatusReviewed ReportStatus = "reviewed"
	ReportStatusResolved ReportStatus = "resolved"
)

const (
	ReportFieldReporterSessionID = "reporter_session_id"
	ReportFieldTargetSessionID   = "target_session_id"
	ReportFieldRoomID            = "room_id"
	ReportFieldReason            = "reason"
	ReportFieldDetail            = "detail"
	ReportFieldCreatedAt         = "created_at"
	ReportFieldStatus            = "status"
)

// Report is a single participant-filed complaint against their room
// counterparty.
type Report struct {
	ID                string
	ReporterSessionID string
	TargetSessionID   string
	RoomID            string
	Reason            string
	Detail            string
	CreatedAt         time.Time
	Status            ReportStatus
}

func (r Report) ToFields() map[string]string {
	return map[string]string{
		ReportFieldReporterSessionID: r.ReporterSessionID,
		ReportFieldTargetSessionID:   r.TargetSessionID,
		ReportFieldRoomID:            r.RoomID,
		ReportFieldReason:            r.Reason,
		ReportFieldDetail:            r.Detail,
		ReportFieldCreatedAt:         strconv.FormatInt(r.CreatedAt.UnixMilli(), 10),
		ReportFieldStatus:            string(r.Status),
	}
}

func ReportFromFields(id string, fields map[string]string) (Report, bool) {
	if len(fields) == 0 {
		return Report{}, false
	}

	createdMs, _ := strconv.ParseInt(fields[ReportFieldCreatedAt], 10, 64)

	return Report{
		ID:                id,
		ReporterSessionID: fields[ReportFieldReporterSessionID],
		TargetSessionID:   fields[ReportFieldTargetSessionID],
		RoomID:            fields[ReportFieldRoomID],
		Reason:            fields[ReportFieldReason],
		Detail:            fields[ReportFieldDetail],
		CreatedAt:         time.UnixMilli(createdMs),
		Status:            ReportStatus(fields[ReportFieldStatus]),
	}, true
}
