package requeue_failed_links

import (
	jobrt "github.com/yungbote/weblink-backend/internal/jobs/runtime"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	var in Payload
	if len(jc.Job.Payload) > 0 {
		if err := jc.Decode(&in); err != nil {
			jc.Fail("decode", err)
			return nil
		}
	}
	n, err := p.svc.RequeueFailedLinks(jc.Ctx, in.Limit)
	if err != nil {
		return err
	}
	p.log.Info("Failed links requeued", "count", n)
	jc.Succeed()
	return nil
}
