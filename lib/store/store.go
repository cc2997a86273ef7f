package store

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/solpool/clmm-core/lib/bitmap"
	"github.com/solpool/clmm-core/lib/pool"
	"github.com/solpool/clmm-core/lib/position"
	"github.com/solpool/clmm-core/lib/tickarray"
)

// ProgramID seeds the derived record addresses.
var ProgramID = solana.MustPublicKeyFromBase58("B6QRukodumWtx6KxBRnz13D3dFgwuXe1JLyVgfyCedV6")

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// Store is an in-memory arena of the core's records, keyed by derived
// addresses. Get methods return deep copies: an invocation mutates its copies
// and commits them with Put only on success, so a failed invocation leaves no
// partial state behind. Exclusive access per invocation is the caller's
// obligation; the store has no internal locking.
type Store struct {
	pools             map[solana.PublicKey]*pool.PoolState
	tickArrays        map[solana.PublicKey]*tickarray.TickArrayState
	bitmapExtensions  map[solana.PublicKey]*bitmap.TickArrayBitmapExtension
	protocolPositions map[solana.PublicKey]*position.ProtocolPositionState
	personalPositions map[solana.PublicKey]*position.PersonalPositionState
}

func New() *Store {
	return &Store{
		pools:             make(map[solana.PublicKey]*pool.PoolState),
		tickArrays:        make(map[solana.PublicKey]*tickarray.TickArrayState),
		bitmapExtensions:  make(map[solana.PublicKey]*bitmap.TickArrayBitmapExtension),
		protocolPositions: make(map[solana.PublicKey]*position.ProtocolPositionState),
		personalPositions: make(map[solana.PublicKey]*position.PersonalPositionState),
	}
}

func derive(seeds [][]byte) (solana.PublicKey, error) {
	key, _, err := solana.FindProgramAddress(seeds, ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive record address: %w", err)
	}
	return key, nil
}

func beInt32(v int32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(v))
	return buf[:]
}

// TickArrayKey derives the address of a pool's tick array record.
func TickArrayKey(poolID solana.PublicKey, startIndex int32) (solana.PublicKey, error) {
	return derive([][]byte{[]byte("tick_array"), poolID.Bytes(), beInt32(startIndex)})
}

// ProtocolPositionKey derives the address of the aggregated per-range record.
func ProtocolPositionKey(poolID solana.PublicKey, tickLower, tickUpper int32) (solana.PublicKey, error) {
	return derive([][]byte{[]byte("position"), poolID.Bytes(), beInt32(tickLower), beInt32(tickUpper)})
}

// PersonalPositionKey derives the address of an owner's position record.
func PersonalPositionKey(nftMint solana.PublicKey) (solana.PublicKey, error) {
	return derive([][]byte{[]byte("personal_position"), nftMint.Bytes()})
}

// BitmapExtensionKey derives the address of a pool's bitmap extension record.
func BitmapExtensionKey(poolID solana.PublicKey) (solana.PublicKey, error) {
	return derive([][]byte{[]byte("pool_tick_array_bitmap_extension"), poolID.Bytes()})
}

// CreatePool registers a pool together with its empty bitmap extension; pool
// creation allocates both records so far-range positions can always resolve
// the extension.
func (s *Store) CreatePool(p *pool.PoolState) error {
	if _, ok := s.pools[p.Key]; ok {
		return fmt.Errorf("%w: pool %s", ErrAlreadyExists, p.Key)
	}
	extKey, err := BitmapExtensionKey(p.Key)
	if err != nil {
		return err
	}
	if err := s.CreateBitmapExtension(extKey, bitmap.NewExtension(p.Key)); err != nil {
		return err
	}
	s.pools[p.Key] = p.Clone()
	return nil
}

func (s *Store) GetPool(key solana.PublicKey) (*pool.PoolState, error) {
	p, ok := s.pools[key]
	if !ok {
		return nil, fmt.Errorf("%w: pool %s", ErrNotFound, key)
	}
	return p.Clone(), nil
}

func (s *Store) PutPool(p *pool.PoolState) {
	s.pools[p.Key] = p.Clone()
}

func (s *Store) GetTickArray(key solana.PublicKey) (*tickarray.TickArrayState, error) {
	ta, ok := s.tickArrays[key]
	if !ok {
		return nil, fmt.Errorf("%w: tick array %s", ErrNotFound, key)
	}
	return ta.Clone(), nil
}

func (s *Store) PutTickArray(key solana.PublicKey, ta *tickarray.TickArrayState) {
	s.tickArrays[key] = ta.Clone()
}

// GetOrCreateTickArray loads the tick array covering startIndex, allocating a
// fresh working copy when it does not exist yet. The created record becomes
// durable only when the caller commits it with PutTickArray.
func (s *Store) GetOrCreateTickArray(poolID solana.PublicKey, startIndex int32, tickSpacing uint16, epoch uint64) (solana.PublicKey, *tickarray.TickArrayState, bool, error) {
	key, err := TickArrayKey(poolID, startIndex)
	if err != nil {
		return solana.PublicKey{}, nil, false, err
	}
	if ta, ok := s.tickArrays[key]; ok {
		return key, ta.Clone(), false, nil
	}
	ta, err := tickarray.New(poolID, startIndex, tickSpacing, epoch)
	if err != nil {
		return solana.PublicKey{}, nil, false, err
	}
	return key, ta, true, nil
}

func (s *Store) CreateBitmapExtension(key solana.PublicKey, e *bitmap.TickArrayBitmapExtension) error {
	if _, ok := s.bitmapExtensions[key]; ok {
		return fmt.Errorf("%w: bitmap extension %s", ErrAlreadyExists, key)
	}
	s.bitmapExtensions[key] = e.Clone()
	return nil
}

func (s *Store) GetBitmapExtension(key solana.PublicKey) (*bitmap.TickArrayBitmapExtension, error) {
	e, ok := s.bitmapExtensions[key]
	if !ok {
		return nil, fmt.Errorf("%w: bitmap extension %s", ErrNotFound, key)
	}
	return e.Clone(), nil
}

func (s *Store) PutBitmapExtension(key solana.PublicKey, e *bitmap.TickArrayBitmapExtension) {
	s.bitmapExtensions[key] = e.Clone()
}

func (s *Store) GetProtocolPosition(key solana.PublicKey) (*position.ProtocolPositionState, error) {
	p, ok := s.protocolPositions[key]
	if !ok {
		return nil, fmt.Errorf("%w: protocol position %s", ErrNotFound, key)
	}
	return p.Clone(), nil
}

func (s *Store) PutProtocolPosition(key solana.PublicKey, p *position.ProtocolPositionState) {
	s.protocolPositions[key] = p.Clone()
}

func (s *Store) GetPersonalPosition(key solana.PublicKey) (*position.PersonalPositionState, error) {
	p, ok := s.personalPositions[key]
	if !ok {
		return nil, fmt.Errorf("%w: personal position %s", ErrNotFound, key)
	}
	return p.Clone(), nil
}

func (s *Store) PutPersonalPosition(key solana.PublicKey, p *position.PersonalPositionState) {
	s.personalPositions[key] = p.Clone()
}
