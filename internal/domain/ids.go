package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Object spaces.
const (
	ProtocolSpace       uint8 = 1
	ImplementationSpace uint8 = 2
)

// Object types within their space.
const (
	AccountType uint8 = 2 // protocol
	AssetType   uint8 = 3 // protocol

	DynamicDataType         uint8 = 3 // implementation
	BitassetDataType        uint8 = 4 // implementation
	DividendDataType        uint8 = 5 // implementation
	DividendBalanceDataType uint8 = 6 // implementation
)

// ObjectID is the uniform identity of every stored record: space.type.instance.
type ObjectID struct {
	Space    uint8  `json:"space"`
	Type     uint8  `json:"type"`
	Instance uint64 `json:"instance"`
}

func (o ObjectID) String() string {
	return fmt.Sprintf("%d.%d.%d", o.Space, o.Type, o.Instance)
}

// ParseObjectID parses the "space.type.instance" form.
func ParseObjectID(s string) (ObjectID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return ObjectID{}, fmt.Errorf("malformed object id %q", s)
	}
	space, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return ObjectID{}, fmt.Errorf("malformed object id %q: %w", s, err)
	}
	typ, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil {
		return ObjectID{}, fmt.Errorf("malformed object id %q: %w", s, err)
	}
	instance, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return ObjectID{}, fmt.Errorf("malformed object id %q: %w", s, err)
	}
	return ObjectID{Space: uint8(space), Type: uint8(typ), Instance: instance}, nil
}

// Object is implemented by every record kept in the ledger state.
type Object interface {
	ObjectID() ObjectID
}

func parseTyped(text []byte, space, typ uint8) (uint64, error) {
	oid, err := ParseObjectID(string(text))
	if err != nil {
		return 0, err
	}
	if oid.Space != space || oid.Type != typ {
		return 0, fmt.Errorf("object id %s is not of type %d.%d", oid, space, typ)
	}
	return oid.Instance, nil
}

// AccountID references an account owned by the account ledger collaborator.
type AccountID uint64

func (id AccountID) ObjectID() ObjectID {
	return ObjectID{Space: ProtocolSpace, Type: AccountType, Instance: uint64(id)}
}
func (id AccountID) String() string { return id.ObjectID().String() }

func (id AccountID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *AccountID) UnmarshalText(text []byte) error {
	n, err := parseTyped(text, ProtocolSpace, AccountType)
	if err != nil {
		return err
	}
	*id = AccountID(n)
	return nil
}

// AssetID identifies an AssetRecord.
type AssetID uint64

func (id AssetID) ObjectID() ObjectID {
	return ObjectID{Space: ProtocolSpace, Type: AssetType, Instance: uint64(id)}
}
func (id AssetID) String() string { return id.ObjectID().String() }

func (id AssetID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *AssetID) UnmarshalText(text []byte) error {
	n, err := parseTyped(text, ProtocolSpace, AssetType)
	if err != nil {
		return err
	}
	*id = AssetID(n)
	return nil
}

// DynamicDataID identifies the DynamicData of an asset.
type DynamicDataID uint64

func (id DynamicDataID) ObjectID() ObjectID {
	return ObjectID{Space: ImplementationSpace, Type: DynamicDataType, Instance: uint64(id)}
}
func (id DynamicDataID) String() string { return id.ObjectID().String() }

func (id DynamicDataID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *DynamicDataID) UnmarshalText(text []byte) error {
	n, err := parseTyped(text, ImplementationSpace, DynamicDataType)
	if err != nil {
		return err
	}
	*id = DynamicDataID(n)
	return nil
}

// BitassetDataID identifies the BitassetData of a market-issued asset.
type BitassetDataID uint64

func (id BitassetDataID) ObjectID() ObjectID {
	return ObjectID{Space: ImplementationSpace, Type: BitassetDataType, Instance: uint64(id)}
}
func (id BitassetDataID) String() string { return id.ObjectID().String() }

func (id BitassetDataID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *BitassetDataID) UnmarshalText(text []byte) error {
	n, err := parseTyped(text, ImplementationSpace, BitassetDataType)
	if err != nil {
		return err
	}
	*id = BitassetDataID(n)
	return nil
}

// DividendDataID identifies the DividendData of a dividend-paying asset.
type DividendDataID uint64

func (id DividendDataID) ObjectID() ObjectID {
	return ObjectID{Space: ImplementationSpace, Type: DividendDataType, Instance: uint64(id)}
}
func (id DividendDataID) String() string { return id.ObjectID().String() }

func (id DividendDataID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *DividendDataID) UnmarshalText(text []byte) error {
	n, err := parseTyped(text, ImplementationSpace, DividendDataType)
	if err != nil {
		return err
	}
	*id = DividendDataID(n)
	return nil
}

// DividendBalanceID identifies a DividendBalanceSnapshot.
type DividendBalanceID uint64

func (id DividendBalanceID) ObjectID() ObjectID {
	return ObjectID{Space: ImplementationSpace, Type: DividendBalanceDataType, Instance: uint64(id)}
}
func (id DividendBalanceID) String() string { return id.ObjectID().String() }

func (id DividendBalanceID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *DividendBalanceID) UnmarshalText(text []byte) error {
	n, err := parseTyped(text, ImplementationSpace, DividendBalanceDataType)
	if err != nil {
		return err
	}
	*id = DividendBalanceID(n)
	return nil
}
