package process_link

import (
	types "github.com/yungbote/weblink-backend/internal/domain/weblink"
	jobrt "github.com/yungbote/weblink-backend/internal/jobs/runtime"
)

// Run ingests the payload's URL. Pipeline failures are recorded on the weblink
// itself, so the run succeeds unless the payload is unusable.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	var job types.IngestionJob
	if err := jc.Decode(&job); err != nil {
		jc.Fail("decode", err)
		return nil
	}

	w, err := p.proc.ProcessLink(jc.Ctx, job)
	if err != nil {
		p.log.Warn("Dropping unprocessable link", "url", job.URL, "job_id", jc.Job.ID, "error", err)
		jc.Succeed()
		return nil
	}
	if w != nil {
		p.log.Debug("Link processed",
			"url", w.URL,
			"parse_status", w.ParseStatus,
			"chunk_status", w.ChunkStatus,
		)
	}
	jc.Succeed()
	return nil
}
