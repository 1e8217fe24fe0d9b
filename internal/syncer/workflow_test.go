package syncer_test

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"trackmirror.app/syncd/internal/jira"
	"trackmirror.app/syncd/internal/model"
	"trackmirror.app/syncd/internal/syncer"
)

type mockActivities struct {
	prepareFn    func(ctx context.Context, args syncer.Args) (*syncer.SyncConfig, error)
	fetchPageFn  func(ctx context.Context, cfg *syncer.SyncConfig, cursor syncer.Cursor) (*syncer.PageResult, error)
	finalizeFn   func(ctx context.Context, projectID int64, lastUpdatedAt *time.Time, message string) error
	markFailedFn func(ctx context.Context, projectID int64, syncErr error) error
}

func (m *mockActivities) Prepare(ctx context.Context, args syncer.Args) (*syncer.SyncConfig, error) {
	if m.prepareFn != nil {
		return m.prepareFn(ctx, args)
	}
	return &syncer.SyncConfig{ProjectID: args.ProjectID}, nil
}

func (m *mockActivities) FetchPage(ctx context.Context, cfg *syncer.SyncConfig, cursor syncer.Cursor) (*syncer.PageResult, error) {
	if m.fetchPageFn != nil {
		return m.fetchPageFn(ctx, cfg, cursor)
	}
	return &syncer.PageResult{}, nil
}

func (m *mockActivities) Finalize(ctx context.Context, projectID int64, lastUpdatedAt *time.Time, message string) error {
	if m.finalizeFn != nil {
		return m.finalizeFn(ctx, projectID, lastUpdatedAt, message)
	}
	return nil
}

func (m *mockActivities) MarkFailed(ctx context.Context, projectID int64, syncErr error) error {
	if m.markFailedFn != nil {
		return m.markFailedFn(ctx, projectID, syncErr)
	}
	return nil
}

func rawArgs(args syncer.Args) json.RawMessage {
	raw, err := json.Marshal(args)
	Expect(err).NotTo(HaveOccurred())
	return raw
}

var _ = Describe("Workflow", func() {
	var (
		ctx  context.Context
		acts *mockActivities
		wf   *syncer.Workflow
	)

	BeforeEach(func() {
		ctx = context.Background()
		acts = &mockActivities{}
		wf = syncer.NewWorkflow(acts)
	})

	It("paginates until the remote reports no more pages", func() {
		tokenA, tokenB := "A", "B"
		t1 := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
		t2 := t1.Add(time.Hour)

		acts.prepareFn = func(_ context.Context, args syncer.Args) (*syncer.SyncConfig, error) {
			return &syncer.SyncConfig{ProjectID: args.ProjectID, AccountIDs: []string{"acct-1"}}, nil
		}

		var cursors []syncer.Cursor
		pages := []*syncer.PageResult{
			{HasMore: true, NextPageToken: &tokenA, LastUpdatedAt: &t1},
			{HasMore: true, NextPageToken: &tokenB, LastUpdatedAt: &t2},
			{HasMore: false},
		}
		acts.fetchPageFn = func(_ context.Context, _ *syncer.SyncConfig, cursor syncer.Cursor) (*syncer.PageResult, error) {
			cursors = append(cursors, cursor)
			return pages[len(cursors)-1], nil
		}

		var finalizedAt *time.Time
		acts.finalizeFn = func(_ context.Context, _ int64, lastUpdatedAt *time.Time, _ string) error {
			finalizedAt = lastUpdatedAt
			return nil
		}

		err := wf.Run(ctx, rawArgs(syncer.Args{ProjectID: 42}))
		Expect(err).NotTo(HaveOccurred())

		Expect(cursors).To(HaveLen(3))
		Expect(cursors[0].NextPageToken).To(BeNil())
		Expect(*cursors[1].NextPageToken).To(Equal("A"))
		Expect(*cursors[2].NextPageToken).To(Equal("B"))

		// The final page carried no watermark, so the prior page's survives.
		Expect(finalizedAt).NotTo(BeNil())
		Expect(*finalizedAt).To(BeTemporally("==", t2))
	})

	It("finishes clean without fetching when no accounts are tracked", func() {
		since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		acts.prepareFn = func(_ context.Context, args syncer.Args) (*syncer.SyncConfig, error) {
			return &syncer.SyncConfig{ProjectID: args.ProjectID, Since: &since}, nil
		}

		fetched := false
		acts.fetchPageFn = func(context.Context, *syncer.SyncConfig, syncer.Cursor) (*syncer.PageResult, error) {
			fetched = true
			return &syncer.PageResult{}, nil
		}

		var message string
		var finalizedAt *time.Time
		acts.finalizeFn = func(_ context.Context, _ int64, lastUpdatedAt *time.Time, msg string) error {
			message = msg
			finalizedAt = lastUpdatedAt
			return nil
		}

		err := wf.Run(ctx, rawArgs(syncer.Args{ProjectID: 42}))
		Expect(err).NotTo(HaveOccurred())
		Expect(fetched).To(BeFalse())
		Expect(message).To(ContainSubstring("nothing to sync"))
		Expect(finalizedAt).NotTo(BeNil())
		Expect(*finalizedAt).To(BeTemporally("==", since))
	})

	It("falls back to the original since when no page carried a watermark", func() {
		since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		acts.prepareFn = func(_ context.Context, args syncer.Args) (*syncer.SyncConfig, error) {
			return &syncer.SyncConfig{ProjectID: args.ProjectID, AccountIDs: []string{"acct-1"}, Since: &since}, nil
		}
		acts.fetchPageFn = func(context.Context, *syncer.SyncConfig, syncer.Cursor) (*syncer.PageResult, error) {
			return &syncer.PageResult{HasMore: false}, nil
		}

		var finalizedAt *time.Time
		acts.finalizeFn = func(_ context.Context, _ int64, lastUpdatedAt *time.Time, _ string) error {
			finalizedAt = lastUpdatedAt
			return nil
		}

		Expect(wf.Run(ctx, rawArgs(syncer.Args{ProjectID: 42}))).To(Succeed())
		Expect(finalizedAt).NotTo(BeNil())
		Expect(*finalizedAt).To(BeTemporally("==", since))
	})

	It("reports a terminal fetch failure and re-raises it", func() {
		acts.prepareFn = func(_ context.Context, args syncer.Args) (*syncer.SyncConfig, error) {
			return &syncer.SyncConfig{ProjectID: args.ProjectID, AccountIDs: []string{"acct-1"}}, nil
		}

		remoteErr := &jira.RemoteError{Classification: model.Classification{
			Code:      "SUSPENDED_PAYMENT",
			Message:   "payment suspended",
			Retryable: false,
			Severity:  model.SeverityError,
		}}
		acts.fetchPageFn = func(context.Context, *syncer.SyncConfig, syncer.Cursor) (*syncer.PageResult, error) {
			return nil, remoteErr
		}

		var markedProject int64
		var markedErr error
		acts.markFailedFn = func(_ context.Context, projectID int64, syncErr error) error {
			markedProject = projectID
			markedErr = syncErr
			return nil
		}

		finalized := false
		acts.finalizeFn = func(context.Context, int64, *time.Time, string) error {
			finalized = true
			return nil
		}

		err := wf.Run(ctx, rawArgs(syncer.Args{ProjectID: 42}))
		Expect(err).To(HaveOccurred())
		Expect(errors.Unwrap(markedErr)).NotTo(BeNil())
		Expect(markedProject).To(Equal(int64(42)))
		Expect(finalized).To(BeFalse())
	})

	It("re-raises the original error even when failure reporting itself fails", func() {
		prepErr := errors.New("db unreachable")
		acts.prepareFn = func(context.Context, syncer.Args) (*syncer.SyncConfig, error) {
			return nil, prepErr
		}
		acts.markFailedFn = func(context.Context, int64, error) error {
			return errors.New("also broken")
		}

		err := wf.Run(ctx, rawArgs(syncer.Args{ProjectID: 42}))
		Expect(err).To(MatchError(ContainSubstring("db unreachable")))
	})

	It("rejects malformed arguments", func() {
		err := wf.Run(ctx, json.RawMessage(`{`))
		Expect(err).To(HaveOccurred())
	})
})
