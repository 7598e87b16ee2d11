package state

import (
	"encoding/json"
	"fmt"

	"github.com/malbeclabs/rewards/distributor/pkg/errs"
)

// CurrentVersion is the layout version written for every record kind.
const CurrentVersion uint16 = 1

// Marshal encodes rec at CurrentVersion.
func Marshal(rec Record) (uint16, []byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to encode %s: %w", rec.Key().Kind, err)
	}
	return CurrentVersion, data, nil
}

// Unmarshal decodes a record of the given kind and version.
func Unmarshal(kind Kind, version uint16, data []byte) (Record, error) {
	if version != CurrentVersion {
		return nil, fmt.Errorf("%s version %d: %w", kind, version, errs.ErrUnsupportedVersion)
	}
	rec, err := newRecord(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %v: %w", kind, err, errs.ErrInvalidAccountData)
	}
	return rec, nil
}

func newRecord(kind Kind) (Record, error) {
	switch kind {
	case KindDirectDistribution:
		return &DirectDistribution{}, nil
	case KindDirectRecipient:
		return &DirectRecipient{}, nil
	case KindMerkleDistribution:
		return &MerkleDistribution{}, nil
	case KindMerkleClaim:
		return &MerkleClaim{}, nil
	case KindRevocation:
		return &Revocation{}, nil
	case KindRewardPool:
		return &RewardPool{}, nil
	case KindPosition:
		return &Position{}, nil
	default:
		return nil, fmt.Errorf("record kind %d: %w", uint8(kind), errs.ErrWrongType)
	}
}
