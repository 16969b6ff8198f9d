package process_link_by_user

import (
	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	jobrt "github.com/yungbote/weblink-backend/internal/jobs/runtime"
)

// Run links a user's visit to its weblink. Readiness and failure retries are
// queued by the service as new runs, so a decoded job always succeeds.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	var job types.IngestionJob
	if err := jc.Decode(&job); err != nil {
		jc.Fail("decode", err)
		return nil
	}
	p.proc.ProcessLinkByUser(jc.Ctx, job)
	jc.Succeed()
	return nil
}
