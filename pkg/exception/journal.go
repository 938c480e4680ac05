package exception

import "errors"

// Journal errors
var (
	ErrJournalClosed        = errors.New("journal: writer closed")
	ErrPayloadTooLarge      = errors.New("journal: payload too large")
	ErrChecksumMismatch     = errors.New("journal: checksum mismatch")
	ErrInvalidMagic         = errors.New("journal: invalid magic")
	ErrUnsupportedRecordVer = errors.New("journal: unsupported record version")
	ErrInvalidHeaderSize    = errors.New("journal: invalid header size")
	ErrBuffTooSmall         = errors.New("journal: payload buffer too small")
)
