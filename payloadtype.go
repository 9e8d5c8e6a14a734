// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package streaming

// PayloadType enumerates the frame types carried in the first header byte.
type PayloadType byte

const (
	// PayloadTypeRequest is a request header payload.
	PayloadTypeRequest = PayloadType('A')
	// PayloadTypeResponse is a response header payload.
	PayloadTypeResponse = PayloadType('B')
	// PayloadTypeStream is a content stream belonging to a request or response.
	PayloadTypeStream = PayloadType('S')
	// PayloadTypeCancelAll asks the receiver to drop every payload in progress.
	PayloadTypeCancelAll = PayloadType('X')
	// PayloadTypeCancelStream asks the receiver to drop the payload with the frame's id.
	PayloadTypeCancelStream = PayloadType('C')
)

var payloadTypeTexts = map[PayloadType]string{
	PayloadTypeRequest:      "Request",
	PayloadTypeResponse:     "Response",
	PayloadTypeStream:       "Stream",
	PayloadTypeCancelAll:    "CancelAll",
	PayloadTypeCancelStream: "CancelStream",
}

// IsValid returns true if pt is a known payload type.
func (pt PayloadType) IsValid() bool {
	_, ok := payloadTypeTexts[pt]
	return ok
}

// IsCancel returns true for the cancellation control types.
func (pt PayloadType) IsCancel() bool {
	return pt == PayloadTypeCancelAll || pt == PayloadTypeCancelStream
}

func (pt PayloadType) String() string {
	if s, ok := payloadTypeTexts[pt]; ok {
		return s
	}
	return "Invalid"
}
