package infrastructure

import "context"

// SoloLeader 用于单实例部署，始终持有领导权。
type SoloLeader struct{}

func (SoloLeader) TryLead(context.Context) (bool, error) { return true, nil }
func (SoloLeader) Resign(context.Context) error          { return nil }
