package provisioner

import "errors"

var (
	// ErrProvisionFailed indicates channel creation did not complete; any
	// partially created channels have been cleaned up
	ErrProvisionFailed = errors.New("failed to provision voice resource pair")

	// ErrNotAMember indicates the target is not connected to the voice
	// channel, so they cannot become its owner
	ErrNotAMember = errors.New("member is not connected to the voice channel")
)
