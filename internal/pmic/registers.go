package pmic

// AddressDefault is the 7-bit I2C address of the charger companion chip.
const AddressDefault = 0x6B

// Register sub-addresses (16-bit little-endian word registers).
const (
	// Engine control / status
	regCtrl        = 0x00 // R/W clock, analog, run
	regStatus      = 0x01 // R main state, JEITA region, VBAT comparator
	regFlags       = 0x02 // R/W protected
	regTBATMonitor = 0x03 // R/W protected
	regOKIRQMask   = 0x04 // R/W
	regErrIRQMask  = 0x05 // R/W
	regIRQEnable   = 0x06 // R/W
	regOKIRQStat   = 0x07 // R
	regOKIRQClear  = 0x08 // W
	regErrIRQStat  = 0x09 // R
	regErrIRQClear = 0x0A // W

	// Levels (protected)
	regOVP           = 0x10
	regReplenish     = 0x11
	regPrechargedThr = 0x12
	regCV            = 0x13
	regEOCPercent    = 0x14
	regPrechargeCC   = 0x15
	regCC            = 0x16

	// JEITA zones (protected): warm, cool, cooler, warmer; six words each
	regZoneBase   = 0x20
	regZoneStride = 6

	// Temperatures (protected)
	regDieTemp     = 0x38
	regBatTempBase = 0x39 // cold, cooler, cool, warm, warmer, hot

	// Timeouts in seconds (protected)
	regTimeoutPrecharge = 0x40
	regTimeoutCC        = 0x41
	regTimeoutCV        = 0x42
	regTimeoutTotal     = 0x43

	// Software write lock
	regLockMode   = 0x50 // R/W bit0
	regLockStatus = 0x51 // R bit0
	regLockKey    = 0x52 // W lock/unlock key

	// Fine tuning (protected)
	regFineTuneBase = 0x58

	// USB port detector
	regDetCtrl     = 0x60 // R/W
	regDetStatus   = 0x61 // R
	regDetIRQClear = 0x62 // W
)

const (
	ctrlClock  = 1 << 0
	ctrlAnalog = 1 << 1
	ctrlRun    = 1 << 2

	statusStateMask   = 0x000F
	statusRegionShift = 4
	statusRegionMask  = 0x0070
	statusVBATLow     = 1 << 8

	irqEnableOK  = 1 << 0
	irqEnableErr = 1 << 1

	lockKeyLock   = 0x5A5A
	lockKeyUnlock = 0xA5A5

	detContact     = 1 << 0
	detPrimary     = 1 << 1
	detSecondary   = 1 << 2
	detDPHigh      = 1 << 3
	detFSMEnable   = 1 << 4
	detIRQEnable   = 1 << 5
	detPhaseMask   = detContact | detPrimary | detSecondary | detDPHigh
	detStatContact = 1 << 0
	detStatPrimary = 1 << 1 // CDP or DCP
	detStatDCP     = 1 << 2
	detStatFSShift = 8
)

// protectedRegister reports whether writes to reg are dropped while the
// software lock is applied.
func protectedRegister(reg byte) bool {
	switch {
	case reg == regFlags || reg == regTBATMonitor:
		return true
	case reg >= regOVP && reg < regLockMode:
		return true
	case reg >= regFineTuneBase && reg < regDetCtrl:
		return true
	}
	return false
}
