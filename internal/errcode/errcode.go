package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：业务可恢复/告警类错误（放置规则被拒、资源缺失、生成进行中）
// - 5xxx：系统错误（需要中断流程）
const (
	OK                 = 0
	PlacementViolation = 4001
	ResourceMissing    = 4004
	GenerationInFlight = 4009
	SystemError        = 5000
)
