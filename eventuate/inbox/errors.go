package inbox

const (
	CodeInsertFailed = "INBOX_INSERT_FAILED"
)
