package rewards

import "encoding/json"

type poolJSON struct {
	RewardPerShare   string `json:"reward_per_share"`
	OptedInSupply    uint64 `json:"opted_in_supply"`
	TotalDistributed uint64 `json:"total_distributed"`
	TotalClaimed     uint64 `json:"total_claimed"`
}

func (p Pool) MarshalJSON() ([]byte, error) {
	return json.Marshal(poolJSON{
		RewardPerShare:   FormatShare(p.RewardPerShare),
		OptedInSupply:    p.OptedInSupply,
		TotalDistributed: p.TotalDistributed,
		TotalClaimed:     p.TotalClaimed,
	})
}

func (p *Pool) UnmarshalJSON(b []byte) error {
	var v poolJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	rps, err := ParseShare(v.RewardPerShare)
	if err != nil {
		return err
	}
	*p = Pool{
		RewardPerShare:   rps,
		OptedInSupply:    v.OptedInSupply,
		TotalDistributed: v.TotalDistributed,
		TotalClaimed:     v.TotalClaimed,
	}
	return nil
}

type positionJSON struct {
	RewardPerSharePaid string `json:"reward_per_share_paid"`
	AccruedRewards     uint64 `json:"accrued_rewards"`
	LastKnownBalance   uint64 `json:"last_known_balance"`
}

func (p Position) MarshalJSON() ([]byte, error) {
	return json.Marshal(positionJSON{
		RewardPerSharePaid: FormatShare(p.RewardPerSharePaid),
		AccruedRewards:     p.AccruedRewards,
		LastKnownBalance:   p.LastKnownBalance,
	})
}

func (p *Position) UnmarshalJSON(b []byte) error {
	var v positionJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	paid, err := ParseShare(v.RewardPerSharePaid)
	if err != nil {
		return err
	}
	*p = Position{
		RewardPerSharePaid: paid,
		AccruedRewards:     v.AccruedRewards,
		LastKnownBalance:   v.LastKnownBalance,
	}
	return nil
}
