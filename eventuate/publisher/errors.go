package publisher

const (
	CodeSerializationFailed = "PUBLISHER_SERIALIZATION_FAILED"
)
