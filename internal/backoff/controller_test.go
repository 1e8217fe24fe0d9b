package backoff_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"trackmirror.app/syncd/common/id"
	"trackmirror.app/syncd/core/config"
	"trackmirror.app/syncd/internal/backoff"
	"trackmirror.app/syncd/internal/model"
	"trackmirror.app/syncd/internal/notify"
	"trackmirror.app/syncd/internal/store"
)

var _ = Describe("Controller", func() {
	var (
		ctx         context.Context
		jobs        *mockSyncJobStore
		logs        *mockSyncLogStore
		rescheduler *mockRescheduler
		notifier    *mockNotifier
		controller  *backoff.Controller

		job         *model.SyncJob
		rescheduled []string
		alerts      []notify.Message
		logged      []model.SyncLog
	)

	failure := func() backoff.FailureEvent {
		return backoff.FailureEvent{
			ProjectID: 42,
			Classification: model.Classification{
				Code:      "SERVER_ERROR",
				Message:   "boom",
				Retryable: true,
				Severity:  model.SeverityError,
			},
			Message: "boom",
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		job = &model.SyncJob{
			ID:        1,
			ProjectID: 42,
			CronExpr:  "*/10 * * * *",
			Status:    model.SyncJobStatusActive,
		}
		rescheduled = nil
		alerts = nil
		logged = nil

		jobs = &mockSyncJobStore{
			getByProjectFn: func(_ context.Context, projectID int64) (*model.SyncJob, error) {
				if job == nil {
					return nil, store.ErrNotFound
				}
				copied := *job
				return &copied, nil
			},
			updateFn: func(_ context.Context, updated *model.SyncJob) error {
				copied := *updated
				job = &copied
				return nil
			},
		}
		logs = &mockSyncLogStore{
			appendFn: func(_ context.Context, entry *model.SyncLog) error {
				logged = append(logged, *entry)
				return nil
			},
		}
		rescheduler = &mockRescheduler{
			rescheduleFn: func(_ context.Context, _ int64, cronExpr string) error {
				rescheduled = append(rescheduled, cronExpr)
				return nil
			},
		}
		notifier = &mockNotifier{
			sendFn: func(_ context.Context, msg notify.Message) error {
				alerts = append(alerts, msg)
				return nil
			},
		}

		controller = backoff.NewController(jobs, logs, rescheduler, notifier, config.NotifyConfig{
			AlertChannel:    "email",
			AlertRecipients: []string{"ops@example.com"},
		})
	})

	Describe("RecordFailure", func() {
		It("escalates one level and reschedules to the first ladder step", func() {
			Expect(controller.RecordFailure(ctx, failure())).To(Succeed())

			Expect(job.BackoffLevel).To(Equal(1))
			Expect(job.CronExpr).To(Equal("*/30 * * * *"))
			Expect(job.Status).To(Equal(model.SyncJobStatusError))
			Expect(*job.BackoffOriginalCron).To(Equal("*/10 * * * *"))
			Expect(rescheduled).To(Equal([]string{"*/30 * * * *"}))
		})

		It("never raises the level past the sparsest step", func() {
			for range 10 {
				Expect(controller.RecordFailure(ctx, failure())).To(Succeed())
			}

			Expect(job.BackoffLevel).To(Equal(5))
			Expect(job.CronExpr).To(Equal("0 */12 * * *"))
			Expect(*job.BackoffOriginalCron).To(Equal("*/10 * * * *"))
		})

		It("alerts only when the level strictly increases", func() {
			for range 10 {
				Expect(controller.RecordFailure(ctx, failure())).To(Succeed())
			}

			// Five escalations to reach the top of the ladder, then plateau.
			Expect(alerts).To(HaveLen(5))
			Expect(alerts[0].Subject).To(ContainSubstring("project 42"))
			Expect(alerts[0].To).To(Equal([]string{"ops@example.com"}))
		})

		It("appends an ERROR log entry with the classification", func() {
			Expect(controller.RecordFailure(ctx, failure())).To(Succeed())

			Expect(logged).To(HaveLen(1))
			Expect(logged[0].Level).To(Equal(model.SyncLogLevelError))
			Expect(string(logged[0].Detail)).To(ContainSubstring("SERVER_ERROR"))
			Expect(string(logged[0].Detail)).To(ContainSubstring("*/30 * * * *"))
		})

		It("is a no-op for a project without a sync job", func() {
			job = nil

			Expect(controller.RecordFailure(ctx, failure())).To(Succeed())
			Expect(rescheduled).To(BeEmpty())
			Expect(alerts).To(BeEmpty())
			Expect(logged).To(BeEmpty())
		})

		It("propagates reschedule failures", func() {
			rescheduler.rescheduleFn = func(context.Context, int64, string) error {
				return errors.New("engine down")
			}

			err := controller.RecordFailure(ctx, failure())
			Expect(err).To(MatchError(ContainSubstring("engine down")))
		})
	})

	Describe("RecordSuccess", func() {
		It("restores the original cadence after an escalation", func() {
			Expect(controller.RecordFailure(ctx, failure())).To(Succeed())
			Expect(controller.RecordFailure(ctx, failure())).To(Succeed())
			rescheduled = nil
			logged = nil

			Expect(controller.RecordSuccess(ctx, 42)).To(Succeed())

			Expect(job.BackoffLevel).To(Equal(0))
			Expect(job.CronExpr).To(Equal("*/10 * * * *"))
			Expect(job.Status).To(Equal(model.SyncJobStatusActive))
			Expect(job.BackoffOriginalCron).To(BeNil())
			Expect(job.BackoffNotifiedAt).To(BeNil())
			Expect(rescheduled).To(Equal([]string{"*/10 * * * *"}))
			Expect(logged).To(HaveLen(1))
			Expect(logged[0].Level).To(Equal(model.SyncLogLevelInfo))
		})

		It("is a no-op at level zero", func() {
			Expect(controller.RecordSuccess(ctx, 42)).To(Succeed())

			Expect(rescheduled).To(BeEmpty())
			Expect(logged).To(BeEmpty())
			Expect(job.Status).To(Equal(model.SyncJobStatusActive))
		})

		It("is a no-op for a project without a sync job", func() {
			job = nil
			Expect(controller.RecordSuccess(ctx, 42)).To(Succeed())
			Expect(rescheduled).To(BeEmpty())
		})
	})
})
