package params

const (
	// KeyProtocol stores the commitment protocol parameter record.
	KeyProtocol = "commitment/protocol"
)
