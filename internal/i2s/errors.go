package i2s

import (
	"fmt"

	"github.com/tphakala/i2score/internal/errors"
)

const componentName = "i2s"

// Sentinels for errors.Is. Returned errors wrap them in an EnhancedError
// carrying the category and call context.
var (
	ErrInvalidConfig   = errors.NewStd("invalid i2s configuration")
	ErrPoolExhausted   = errors.NewStd("buffer pool exhausted")
	ErrInterfaceBusy   = errors.NewStd("i2s interface already open")
	ErrConcurrentRead  = errors.NewStd("another read is already blocked on this channel")
	ErrTaskPending     = errors.NewStd("task has not been resolved yet")
	ErrTaskOutstanding = errors.NewStd("an asynchronous read is already registered on this channel")
	ErrInvalidChannel  = errors.NewStd("invalid channel id")
	ErrNotTDM          = errors.NewStd("operation requires TDM mode")
	ErrTDM             = errors.NewStd("operation requires non-TDM mode")
	ErrChannelBusy     = errors.NewStd("channel must be stopped and drained")
	ErrBlockReleased   = errors.NewStd("block is not owned by the consumer")
	ErrHardwareFault   = errors.NewStd("fatal hardware fault")
	ErrDeviceClosed    = errors.NewStd("device closed")
)

func usageError(sentinel error, op string, channel int) error {
	return errors.New(sentinel).
		Component(componentName).
		Category(errors.CategoryUsage).
		Context("operation", op).
		Context("channel", channel).
		Build()
}

func resourceError(sentinel error, op string, channel int) error {
	return errors.New(sentinel).
		Component(componentName).
		Category(errors.CategoryResource).
		Context("operation", op).
		Context("channel", channel).
		Build()
}

func closedError(itf int) error {
	return errors.New(ErrDeviceClosed).
		Component(componentName).
		Category(errors.CategoryState).
		Context("itf", itf).
		Build()
}

// hardwareError is reported to telemetry as critical when a reporter is installed.
func hardwareError(cause error, itf int, deviceID string) error {
	err := ErrHardwareFault
	if cause != nil {
		err = fmt.Errorf("%w: %w", ErrHardwareFault, cause)
	}
	return errors.New(err).
		Component(componentName).
		Category(errors.CategoryHardware).
		Priority(errors.PriorityCritical).
		Context("operation", "transfer_complete").
		Context("itf", itf).
		Context("device_id", deviceID).
		Build()
}

// errorCategory names the category of err for metric labels.
func errorCategory(err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return string(ee.Category)
	}
	return string(errors.CategoryGeneric)
}
