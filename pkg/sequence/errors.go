package sequence

import "github.com/tibbar/tibbar/pkg/tibbarerr"

func funnelCannotProgress() error {
	return tibbarerr.New(tibbarerr.FunnelCannotProgress,
		"a full round-robin round yielded no item: every producer is blocked or skipped", nil)
}

func invalidResourceRequest(msg string) error {
	return tibbarerr.New(tibbarerr.InvalidResourceRequest, msg, nil)
}
