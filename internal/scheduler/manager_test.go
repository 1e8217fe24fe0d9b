package scheduler_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"trackmirror.app/syncd/common/id"
	"trackmirror.app/syncd/core/config"
	"trackmirror.app/syncd/internal/engine"
	"trackmirror.app/syncd/internal/model"
	"trackmirror.app/syncd/internal/scheduler"
	"trackmirror.app/syncd/internal/store"
	"trackmirror.app/syncd/internal/syncer"
)

var _ = Describe("Manager", func() {
	var (
		ctx     context.Context
		jobs    *mockSyncJobStore
		states  *mockSyncStateStore
		logs    *mockSyncLogStore
		client  *mockEngineClient
		manager *scheduler.Manager

		job          *model.SyncJob
		ensured      []model.SyncEntity
		createdSpecs []engine.ScheduleSpec
		nextRunSet   []*time.Time
		logged       []model.SyncLog
	)

	syncCfg := config.SyncConfig{DefaultCron: "*/10 * * * *", PageSize: 100}

	BeforeEach(func() {
		ctx = context.Background()
		Expect(id.Init(1)).To(Succeed())

		job = nil
		ensured = nil
		createdSpecs = nil
		nextRunSet = nil
		logged = nil

		jobs = &mockSyncJobStore{
			getByProjectFn: func(_ context.Context, _ int64) (*model.SyncJob, error) {
				if job == nil {
					return nil, store.ErrNotFound
				}
				copied := *job
				return &copied, nil
			},
			createIfAbsentFn: func(_ context.Context, candidate *model.SyncJob) (*model.SyncJob, bool, error) {
				if job != nil {
					copied := *job
					return &copied, false, nil
				}
				copied := *candidate
				job = &copied
				return candidate, true, nil
			},
			updateFn: func(_ context.Context, updated *model.SyncJob) error {
				copied := *updated
				job = &copied
				return nil
			},
			setNextRunAtFn: func(_ context.Context, _ int64, at *time.Time) error {
				nextRunSet = append(nextRunSet, at)
				if job != nil {
					job.NextRunAt = at
				}
				return nil
			},
		}
		states = &mockSyncStateStore{
			ensureFn: func(_ context.Context, _ int64, entity model.SyncEntity) error {
				ensured = append(ensured, entity)
				return nil
			},
		}
		logs = &mockSyncLogStore{
			appendFn: func(_ context.Context, entry *model.SyncLog) error {
				logged = append(logged, *entry)
				return nil
			},
		}
		client = &mockEngineClient{
			scheduleCreateFn: func(_ context.Context, spec engine.ScheduleSpec) error {
				createdSpecs = append(createdSpecs, spec)
				return nil
			},
		}

		manager = scheduler.NewManager(jobs, states, logs, client, syncCfg)
	})

	Describe("Initialize", func() {
		It("creates the job with derived identifiers and the default cron", func() {
			created, err := manager.Initialize(ctx, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(created.WorkflowID).To(Equal("jira-sync-42"))
			Expect(created.ScheduleID).To(Equal("jira-sync-schedule-42"))
			Expect(created.CronExpr).To(Equal("*/10 * * * *"))
			Expect(created.Status).To(Equal(model.SyncJobStatusActive))
		})

		It("ensures a sync state per tracked entity", func() {
			_, err := manager.Initialize(ctx, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(ensured).To(Equal(model.AllSyncEntities))
		})

		It("registers the engine schedule with workflow args", func() {
			_, err := manager.Initialize(ctx, 42)

			Expect(err).NotTo(HaveOccurred())
			Expect(createdSpecs).To(HaveLen(1))
			Expect(createdSpecs[0].ScheduleID).To(Equal("jira-sync-schedule-42"))
			Expect(createdSpecs[0].WorkflowType).To(Equal(syncer.WorkflowType))
			Expect(createdSpecs[0].CronExpr).To(Equal("*/10 * * * *"))

			var args syncer.Args
			Expect(json.Unmarshal(createdSpecs[0].Args, &args)).To(Succeed())
			Expect(args.ProjectID).To(Equal(int64(42)))
			Expect(args.FullResync).To(BeFalse())
		})

		It("tolerates a schedule that already exists", func() {
			client.scheduleCreateFn = func(context.Context, engine.ScheduleSpec) error {
				return engine.ErrScheduleExists
			}

			_, err := manager.Initialize(ctx, 42)
			Expect(err).NotTo(HaveOccurred())
		})

		It("propagates any other engine creation error", func() {
			client.scheduleCreateFn = func(context.Context, engine.ScheduleSpec) error {
				return errors.New("engine unavailable")
			}

			_, err := manager.Initialize(ctx, 42)
			Expect(err).To(MatchError(ContainSubstring("engine unavailable")))
		})

		It("is idempotent for an existing job", func() {
			first, err := manager.Initialize(ctx, 42)
			Expect(err).NotTo(HaveOccurred())

			second, err := manager.Initialize(ctx, 42)
			Expect(err).NotTo(HaveOccurred())
			Expect(second.ID).To(Equal(first.ID))
		})
	})

	Describe("Pause", func() {
		It("fails hard when the job does not exist", func() {
			err := manager.Pause(ctx, 42)
			Expect(err).To(MatchError(scheduler.ErrJobNotFound))
		})

		It("pauses the engine schedule and persists the status", func() {
			var pausedID string
			client.schedulePauseFn = func(_ context.Context, scheduleID, _ string) error {
				pausedID = scheduleID
				return nil
			}

			_, err := manager.Initialize(ctx, 42)
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.Pause(ctx, 42)).To(Succeed())
			Expect(pausedID).To(Equal("jira-sync-schedule-42"))
			Expect(job.Status).To(Equal(model.SyncJobStatusPaused))
		})
	})

	Describe("Resume", func() {
		It("initializes a missing job before resuming", func() {
			Expect(manager.Resume(ctx, 42)).To(Succeed())

			Expect(job).NotTo(BeNil())
			Expect(job.Status).To(Equal(model.SyncJobStatusActive))
			Expect(createdSpecs).To(HaveLen(1))
		})
	})

	Describe("Reschedule", func() {
		It("rejects an invalid cron expression", func() {
			_, err := manager.Initialize(ctx, 42)
			Expect(err).NotTo(HaveOccurred())

			err = manager.Reschedule(ctx, 42, "not a cron")
			Expect(err).To(HaveOccurred())
		})

		It("mutates the engine schedule and persists the new cron", func() {
			updatedSchedule := engine.Schedule{CronExpr: "*/10 * * * *"}
			client.scheduleUpdateFn = func(_ context.Context, _ string, mutate func(*engine.Schedule) error) error {
				return mutate(&updatedSchedule)
			}

			_, err := manager.Initialize(ctx, 42)
			Expect(err).NotTo(HaveOccurred())

			Expect(manager.Reschedule(ctx, 42, "0 * * * *")).To(Succeed())
			Expect(updatedSchedule.CronExpr).To(Equal("0 * * * *"))
			Expect(job.CronExpr).To(Equal("0 * * * *"))
		})
	})

	Describe("TriggerManual", func() {
		It("starts a uniquified workflow execution and logs the trigger", func() {
			var started engine.StartOptions
			client.startWorkflowFn = func(_ context.Context, workflowType string, opts engine.StartOptions) (int64, error) {
				Expect(workflowType).To(Equal(syncer.WorkflowType))
				started = opts
				return 77, nil
			}

			_, err := manager.Initialize(ctx, 42)
			Expect(err).NotTo(HaveOccurred())

			runID, err := manager.TriggerManual(ctx, 42, scheduler.TriggerOptions{
				Full:       true,
				AccountIDs: []string{"acct-1"},
			})

			Expect(err).NotTo(HaveOccurred())
			Expect(runID).To(Equal(int64(77)))
			Expect(started.WorkflowID).To(HavePrefix("jira-sync-42-"))
			Expect(started.WorkflowID).NotTo(Equal("jira-sync-42"))

			var args syncer.Args
			Expect(json.Unmarshal(started.Args, &args)).To(Succeed())
			Expect(args.FullResync).To(BeTrue())
			Expect(args.AccountIDs).To(Equal([]string{"acct-1"}))

			Expect(logged).To(HaveLen(1))
			Expect(logged[0].Message).To(ContainSubstring("manual sync triggered"))
		})
	})

	Describe("RefreshNextRunTime", func() {
		It("caches the earliest strictly future activation time", func() {
			now := time.Now()
			past := now.Add(-time.Hour)
			soon := now.Add(10 * time.Minute)
			later := now.Add(time.Hour)
			client.scheduleDescribeFn = func(context.Context, string) (*engine.ScheduleDescription, error) {
				return &engine.ScheduleDescription{NextActionTimes: []time.Time{past, later, soon}}, nil
			}

			_, err := manager.Initialize(ctx, 42)
			Expect(err).NotTo(HaveOccurred())

			last := nextRunSet[len(nextRunSet)-1]
			Expect(last).NotTo(BeNil())
			Expect(*last).To(BeTemporally("==", soon))
		})

		It("caches null when the engine reports nothing upcoming", func() {
			_, err := manager.Initialize(ctx, 42)
			Expect(err).NotTo(HaveOccurred())

			client.scheduleDescribeFn = func(context.Context, string) (*engine.ScheduleDescription, error) {
				return &engine.ScheduleDescription{}, nil
			}

			Expect(manager.RefreshNextRunTime(ctx, 42)).To(Succeed())
			Expect(nextRunSet[len(nextRunSet)-1]).To(BeNil())
		})
	})
})
