package domain

// Result is the in-band status code returned to clients.
type Result int32

const (
	ResultOK                      Result = 0
	ResultDataRateNotSupported    Result = -1
	ResultNotAvailable            Result = -2
	ResultMessageNotSent          Result = -3
	ResultCanNotGetReply          Result = -4
	ResultWrongActionOnSensorType Result = -5
	ResultWrongParameter          Result = -6
	ResultPropertyNotSupported    Result = -7
	ResultNoCapacity              Result = -8
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultDataRateNotSupported:
		return "data rate not supported"
	case ResultNotAvailable:
		return "not available"
	case ResultMessageNotSent:
		return "message not sent"
	case ResultCanNotGetReply:
		return "can not get reply"
	case ResultWrongActionOnSensorType:
		return "wrong action on sensor type"
	case ResultWrongParameter:
		return "wrong parameter"
	case ResultPropertyNotSupported:
		return "property not supported"
	case ResultNoCapacity:
		return "no capacity"
	default:
		return "firmware error"
	}
}
