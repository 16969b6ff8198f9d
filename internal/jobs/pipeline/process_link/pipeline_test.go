package process_link

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/weblink-backend/internal/data/repos/testutil"
	jobtypes "github.com/yungbote/weblink-backend/internal/domain/jobs"
	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	jobrt "github.com/yungbote/weblink-backend/internal/jobs/runtime"
)

type fakeProcessor struct {
	got []types.IngestionJob
	err error
}

func (f *fakeProcessor) ProcessLink(_ context.Context, job types.IngestionJob) (*types.Weblink, error) {
	f.got = append(f.got, job)
	if f.err != nil {
		return nil, f.err
	}
	return &types.Weblink{URL: job.URL, ParseStatus: types.StatusFinish}, nil
}

func jobContext(payload string) *jobrt.Context {
	return jobrt.NewContext(context.Background(), &jobtypes.JobRun{
		ID:      uuid.New(),
		JobType: types.ChannelProcessLink,
		Status:  jobtypes.StatusRunning,
		Payload: datatypes.JSON(payload),
	}, nil)
}

func TestRunProcessesPayload(t *testing.T) {
	proc := &fakeProcessor{}
	p := New(testutil.Logger(t), proc)
	require.Equal(t, types.ChannelProcessLink, p.Type())

	jc := jobContext(`{"url":"https://a.com/","retryTimes":2}`)
	require.NoError(t, p.Run(jc))
	require.Len(t, proc.got, 1)
	require.Equal(t, 2, proc.got[0].RetryTimes)
	require.Equal(t, jobtypes.StatusSucceeded, jc.Job.Status)
}

func TestRunDropsInvalidURL(t *testing.T) {
	proc := &fakeProcessor{err: errors.New("invalid url")}
	jc := jobContext(`{"url":"nope"}`)
	require.NoError(t, New(testutil.Logger(t), proc).Run(jc))
	require.Equal(t, jobtypes.StatusSucceeded, jc.Job.Status)
}

func TestRunFailsOnBadPayload(t *testing.T) {
	proc := &fakeProcessor{}
	jc := jobContext(`[`)
	require.NoError(t, New(testutil.Logger(t), proc).Run(jc))
	require.Equal(t, jobtypes.StatusFailed, jc.Job.Status)
	require.Empty(t, proc.got)
}
