package ledger

import (
	"encoding/json"

	"github.com/malbeclabs/rewards/distributor/pkg/vesting"
)

type allocationJSON struct {
	TotalAmount uint64             `json:"total_amount"`
	Schedule    vesting.Descriptor `json:"schedule"`
}

func (a Allocation) MarshalJSON() ([]byte, error) {
	return json.Marshal(allocationJSON{TotalAmount: a.TotalAmount, Schedule: vesting.Describe(a.Schedule)})
}

func (a *Allocation) UnmarshalJSON(b []byte) error {
	var v allocationJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s, err := v.Schedule.Schedule()
	if err != nil {
		return err
	}
	*a = Allocation{TotalAmount: v.TotalAmount, Schedule: s}
	return nil
}
