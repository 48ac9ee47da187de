package raikkonen

// CurrentDialect is the only protocol dialect this scheduler
// negotiates. A controller's "hei" handshake must carry this value.
const CurrentDialect uint16 = 0x0000

// DefaultAddr is the address Start listens on when a host process has
// no opinion of its own.
const DefaultAddr = "127.0.0.1:9494"
