package validation

const (
	// Amount limits. CLP amounts are whole pesos, so the ceiling is generous.
	MinTransactionAmount = 0.01
	MaxTransactionAmount = 100000000.00

	// String lengths
	MaxDescriptionLength = 500
	MaxAliasLength       = 100
	MaxHolderNameLength  = 100
)
