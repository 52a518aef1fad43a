package constants

// Redis Key 前缀和格式常量
// 使用统一的命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 是所有Redis Key的统一应用前缀
	AppPrefix = "app"

	// CaseModulePrefix 案件模块
	CaseModulePrefix = "case"

	// EntityDedupSet 去重集合实体
	EntityDedupSet = "dedup_set"

	// KeyCaseRawMD5Set 案件内原始文件MD5集合，用于同案件重复文档检测 (SET)
	// 格式: app:case:dedup_set:{caseID}
	KeyCaseRawMD5Set = AppPrefix + ":" + CaseModulePrefix + ":" + EntityDedupSet + ":%s"
)
