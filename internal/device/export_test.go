package device

// NewBank builds a bank around closers only.
func NewBank(closers ...Closer) *Bank {
	return &Bank{closers: closers}
}
