package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrConflict reports that a conditional account replace lost a race: the
// row changed (or appeared) between the caller's read and its write.
var ErrConflict = errors.New("account record changed concurrently")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) AutoMigrate() error {
	return r.db.AutoMigrate(&Account{}, &SessionJob{})
}

func (r *Repo) FindByIdentity(ctx context.Context, cookieUserID string) (*Account, error) {
	var a Account
	if err := r.db.WithContext(ctx).
		Where("cookie_user_id = ?", cookieUserID).
		First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repo) CountAccounts(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&Account{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// ReplaceByIdentity commits a new or replacement account record keyed by
// cookie_user_id. When prevUpdatedAt is nil the record must not exist yet;
// otherwise the existing row is only updated if its updated_at still matches
// the value the caller read, so two sessions can never both replace the same
// identity. Either way a lost race surfaces as ErrConflict.
func (r *Repo) ReplaceByIdentity(ctx context.Context, a *Account, prevUpdatedAt *time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if prevUpdatedAt == nil {
			if err := tx.Create(a).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return ErrConflict
				}
				// sqlite/mysql drivers do not always translate unique
				// violations; a create that fails after a not-found read is
				// a race either way
				return ErrConflict
			}
			return nil
		}

		res := tx.Model(&Account{}).
			Where("cookie_user_id = ? AND updated_at = ?", a.CookieUserID, *prevUpdatedAt).
			Updates(map[string]any{
				"cookie":       a.Cookie,
				"container_id": a.ContainerID,
				"tg_user_id":   a.TGUserID,
				"tg_username":  a.TGUsername,
				"updated_at":   time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
}

// Job CRUD

func (r *Repo) CreateJob(ctx context.Context, job *SessionJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*SessionJob, error) {
	var j SessionJob
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repo) MarkJobRunning(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&SessionJob{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning).Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string, containerID string) error {
	return r.db.WithContext(ctx).Model(&SessionJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       JobSucceeded,
			"container_id": containerID,
			"error":        nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&SessionJob{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       JobFailed,
			"error":        errMsg,
			"container_id": nil,
		}).Error
}

func (r *Repo) GetJobByRequesterAndIdempotencyKey(ctx context.Context, requesterID, key string) (*SessionJob, error) {
	var j SessionJob
	err := r.db.WithContext(ctx).
		Where("requester_id = ? AND idempotency_key = ?", requesterID, key).
		First(&j).Error
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJobOrGetExisting tries to create a job, but if
// (requester_id, idempotency_key) already exists it returns the existing job
// instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *SessionJob) (*SessionJob, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByRequesterAndIdempotencyKey(ctx, job.RequesterID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}

	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}
