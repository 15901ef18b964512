package events

// responseCycle fixes the interaction order a cell advances through. A cell
// with no stored row sits at the implicit "unanswered" position between
// unavailable and available.
var responseCycle = []ResponseValue{ResponseAvailable, ResponseTentative, ResponseUnavailable}

// NextResponse returns the state following current in the fixed ring
// available → tentative → unavailable → unanswered → available. It is total:
// any ResponseState, including the zero value, has a successor.
func NextResponse(current ResponseState) ResponseState {
	if !current.Answered {
		return Answered(responseCycle[0])
	}
	for index, value := range responseCycle {
		if value != current.Value {
			continue
		}
		if index == len(responseCycle)-1 {
			return Unanswered
		}
		return Answered(responseCycle[index+1])
	}
	// Unknown stored value, e.g. hand-edited data. Restart the ring.
	return Answered(responseCycle[0])
}
