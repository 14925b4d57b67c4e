// Package errors defines the coded errors shared by amansearch packages.
//
// Codes read ERR_<number>_<NAME>. The hundreds digit of the number picks
// the Category: 1 config, 2 storage, 3 network, 4 validation, 5 internal
// and 6 search.
package errors

// Category groups codes by what went wrong.
type Category string

const (
	CategoryConfig     Category = "CONFIG"
	CategoryStorage    Category = "STORAGE"
	CategoryNetwork    Category = "NETWORK"
	CategoryValidation Category = "VALIDATION"
	CategoryInternal   Category = "INTERNAL"
	CategorySearch     Category = "SEARCH"
)

// Config: unknown plugins, locked or reserved fields.
const (
	ErrCodeConfigNotFound    = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid     = "ERR_102_CONFIG_INVALID"
	ErrCodeUnknownField      = "ERR_103_UNKNOWN_FIELD"
	ErrCodeUnknownProcessor  = "ERR_104_UNKNOWN_PROCESSOR"
	ErrCodeUnknownDatasource = "ERR_105_UNKNOWN_DATASOURCE"
	ErrCodeUnknownBackend    = "ERR_106_UNKNOWN_BACKEND"
	ErrCodeUnknownType       = "ERR_107_UNKNOWN_TYPE"
	ErrCodeFieldLocked       = "ERR_108_FIELD_LOCKED"
	ErrCodeFieldReserved     = "ERR_109_FIELD_RESERVED"
	ErrCodeFieldExists       = "ERR_110_FIELD_EXISTS"
	ErrCodeProcessorLocked   = "ERR_111_PROCESSOR_LOCKED"
	ErrCodeUnmappedDataType  = "ERR_112_UNMAPPED_DATA_TYPE"
)

// Storage: databases and files.
const (
	ErrCodeFileNotFound   = "ERR_201_FILE_NOT_FOUND"
	ErrCodeFilePermission = "ERR_202_FILE_PERMISSION"
	ErrCodeDatabaseOpen   = "ERR_203_DATABASE_OPEN"
	ErrCodeDatabaseWrite  = "ERR_204_DATABASE_WRITE"
	ErrCodeCorruptIndex   = "ERR_205_CORRUPT_INDEX"
	ErrCodeSchema         = "ERR_206_SCHEMA"
)

// Network: remote databases and Redis.
const (
	ErrCodeNetworkTimeout     = "ERR_301_NETWORK_TIMEOUT"
	ErrCodeNetworkUnavailable = "ERR_302_NETWORK_UNAVAILABLE"
)

// Validation: queries, conditions and requests.
const (
	ErrCodeInvalidInput     = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidQuery     = "ERR_402_INVALID_QUERY"
	ErrCodeInvalidOperator  = "ERR_403_INVALID_OPERATOR"
	ErrCodeUnknownCondition = "ERR_404_UNKNOWN_CONDITION_FIELD"
	ErrCodeInvalidValue     = "ERR_405_INVALID_VALUE"
)

// Internal: index state and backend availability.
const (
	ErrCodeInternal           = "ERR_501_INTERNAL"
	ErrCodeIndexDisabled      = "ERR_502_INDEX_DISABLED"
	ErrCodeNoServer           = "ERR_503_NO_SERVER"
	ErrCodeBackendUnavailable = "ERR_504_BACKEND_UNAVAILABLE"
	ErrCodeIndexFailed        = "ERR_505_INDEX_FAILED"
)

// Search: query compilation and execution.
const (
	ErrCodeSearchFailed       = "ERR_601_SEARCH_FAILED"
	ErrCodeNoFulltextFields   = "ERR_602_NO_FULLTEXT_FIELDS"
	ErrCodeUnsupportedFeature = "ERR_603_UNSUPPORTED_FEATURE"
)

var categoryByDigit = map[byte]Category{
	'1': CategoryConfig,
	'2': CategoryStorage,
	'3': CategoryNetwork,
	'4': CategoryValidation,
	'6': CategorySearch,
}

var retryable = map[string]bool{
	ErrCodeNetworkTimeout:     true,
	ErrCodeNetworkUnavailable: true,
	ErrCodeBackendUnavailable: true,
}

func categoryOf(code string) Category {
	const prefix = "ERR_"
	if len(code) <= len(prefix) || code[:len(prefix)] != prefix {
		return CategoryInternal
	}
	if c, ok := categoryByDigit[code[len(prefix)]]; ok {
		return c
	}
	return CategoryInternal
}
