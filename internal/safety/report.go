package safety

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/minglr/match-relay/internal/cryptoutil"
	apperrors "github.com/minglr/match-relay/internal/errors"
	"github.com/minglr/match-relay/internal/identity"
	"github.com/minglr/match-relay/internal/model"
	"github.com/minglr/match-relay/internal/store"
)

// bumpCounterScript backs the auto-disconnect rule's per-target
// sliding-window report counter: it evicts scores outside the window,
// adds this report's timestamp, and returns the resulting count in one
// round trip. It reuses the same ZADD/ZREMRANGEBYSCORE shape as the
// rate limiter rather than a flat INCR+EXPIRE counter, so the
// threshold is evaluated over a genuine rolling window instead of
// resetting to zero the instant a TTL lapses.
var bumpCounterScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, math.ceil(window / 1e9))

return redis.call('ZCARD', key)
`)

// ReportService ingests abuse reports and tracks the per-target report
// counter that drives forced disconnection.
type ReportService struct {
	store                   *store.Store
	identity                *identity.Authority
	reportCounterWindow     time.Duration
	autoDisconnectThreshold int64
}

func NewReportService(s *store.Store, auth *identity.Authority, reportCounterWindow time.Duration, autoDisconnectThreshold int64) *ReportService {
	return &ReportService{
		store:                   s,
		identity:                auth,
		reportCounterWindow:     reportCounterWindow,
		autoDisconnectThreshold: autoDisconnectThreshold,
	}
}

// Submission is the outcome of filing a report: the stored record plus
// whether the target has now crossed the auto-disconnect threshold.
type Submission struct {
	Report               model.Report
	ShouldAutoDisconnect bool
}

// File records a report from reporterSessionID against
// targetSessionID. Self-reports are rejected outright; rate limiting on
// the reporter identifier is the caller's responsibility (the HTTP
// reports handler consults the RateLimiter before calling File).
func (rs *ReportService) File(ctx context.Context, reporterSessionID, targetSessionID, roomID, reason, detail string) (Submission, error) {
	if reporterSessionID == targetSessionID {
		return Submission{}, apperrors.InvalidArgument("cannot report yourself")
	}

	reportID, err := cryptoutil.RandomID(12)
	if err != nil {
		return Submission{}, apperrors.Fatal("generate report id", err)
	}

	report := model.Report{
		ID:                reportID,
		ReporterSessionID: reporterSessionID,
		TargetSessionID:   targetSessionID,
		RoomID:            roomID,
		Reason:            reason,
		Detail:            detail,
		CreatedAt:         time.Now(),
		Status:            model.ReportStatusPending,
	}

	key := store.ReportKey(reportID)
	pipe := rs.store.TxPipeline()
	pipe.HSet(ctx, key, report.ToFields())
	pipe.Expire(ctx, key, 7*24*time.Hour)
	pipe.RPush(ctx, store.ReportsListKey(), reportID)
	if _, err := pipe.Exec(ctx); err != nil {
		return Submission{}, apperrors.StoreUnavailable(err)
	}

	count, err := rs.bumpCounter(ctx, targetSessionID)
	if err != nil {
		return Submission{}, err
	}

	if _, err := rs.identity.BumpReportCount(ctx, targetSessionID); err != nil {
		return Submission{}, err
	}

	return Submission{
		Report:               report,
		ShouldAutoDisconnect: count >= rs.autoDisconnectThreshold,
	}, nil
}

func (rs *ReportService) bumpCounter(ctx context.Context, targetSessionID string) (int64, error) {
	count, err := bumpCounterScript.Run(
		ctx,
		rs.store.Client,
		[]string{store.ReportedKey(targetSessionID)},
		time.Now().UnixNano(),
		rs.reportCounterWindow.Nanoseconds(),
	).Int64()
	if err != nil {
		return 0, apperrors.StoreUnavailable(err)
	}
	return count, nil
}

// List returns the most recently filed reports, newest first, bounded
// by limit.
func (rs *ReportService) List(ctx context.Context, limit int64) ([]model.Report, error) {
	ids, err := rs.store.LRange(ctx, store.ReportsListKey(), -limit, -1).Result()
	if err != nil {
		return nil, apperrors.StoreUnavailable(err)
	}

	reports := make([]model.Report, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		fields, err := rs.store.HGetAll(ctx, store.ReportKey(ids[i])).Result()
		if err != nil {
			return nil, apperrors.StoreUnavailable(err)
		}
		if report, ok := model.ReportFromFields(ids[i], fields); ok {
			reports = append(reports, report)
		}
	}
	return reports, nil
}
