package riscv

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Virtio-mmio version-2 (non-legacy) register offsets (device-relative), block device
// only, one virtqueue, no MSI-X: a minimal transport just wide enough to
// boot a Linux guest's virtio_blk driver.
const (
	vmmioMagic         = 0x000
	vmmioVersion       = 0x004
	vmmioDeviceID      = 0x008
	vmmioVendorID      = 0x00c
	vmmioDeviceFeat    = 0x010
	vmmioDeviceFeatSel = 0x014
	vmmioDriverFeat    = 0x020
	vmmioDriverFeatSel = 0x024
	vmmioQueueSel      = 0x030
	vmmioQueueNumMax   = 0x034
	vmmioQueueNum      = 0x038
	vmmioQueueReady    = 0x044
	vmmioQueueNotify   = 0x050
	vmmioIntStatus     = 0x060
	vmmioIntAck        = 0x064
	vmmioStatus        = 0x070
	vmmioQueueDescLow  = 0x080
	vmmioQueueDescHigh = 0x084
	vmmioQueueAvailLow = 0x090
	vmmioQueueAvailHigh = 0x094
	vmmioQueueUsedLow  = 0x0a0
	vmmioQueueUsedHigh = 0x0a4
	vmmioConfigGen     = 0x0fc
	vmmioConfigSpace   = 0x100
)

const (
	virtioDeviceIDBlock = 2
	virtioVendorID      = 0xffff
	sectorSize          = 512
)

const (
	vringDescFNext  = 1
	vringDescFWrite = 2
)

type vqueue struct {
	ready        uint32
	num          uint32
	descAddr     uint64
	availAddr    uint64
	usedAddr     uint64
	lastAvailIdx uint16
}

// VirtioBlock is a single-queue virtio-mmio (version 2) block device; the
// legacy (version 1) register layout is not provided. Descriptor
// tables live in guest RAM and are walked directly through the shared
// backing store (descriptor/queue addresses are physical, not virtual, per
// the virtio-mmio contract).
type VirtioBlock struct {
	store *BackingStore
	img   io.ReadWriteSeeker
	size  int64 // in sectors

	status      uint32
	featuresSel uint32
	queueSel    uint32
	queue       vqueue
	intStatus   uint32
	irq         bool
}

// NewVirtioBlock creates a block device backed by img, whose length (bytes)
// determines the device's reported capacity rounded down to whole sectors.
func NewVirtioBlock(store *BackingStore, img io.ReadWriteSeeker) (*VirtioBlock, error) {
	end, err := img.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("riscv: virtio-blk: %w", err)
	}
	if _, err := img.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("riscv: virtio-blk: %w", err)
	}
	return &VirtioBlock{store: store, img: img, size: end / sectorSize}, nil
}

func (v *VirtioBlock) Size() uint32 { return VirtIOSize }

// IRQ implements IRQSource.
func (v *VirtioBlock) IRQ() bool { return v.irq }

func (v *VirtioBlock) Read(offset uint32, size int) (uint32, error) {
	if offset >= vmmioConfigSpace {
		return v.readConfig(offset - vmmioConfigSpace)
	}
	switch offset {
	case vmmioMagic:
		return 0x74726976, nil
	case vmmioVersion:
		return 2, nil
	case vmmioDeviceID:
		return virtioDeviceIDBlock, nil
	case vmmioVendorID:
		return virtioVendorID, nil
	case vmmioDeviceFeat:
		if v.featuresSel == 1 {
			return 1, nil
		}
		return 0, nil
	case vmmioQueueNumMax:
		return 1024, nil
	case vmmioQueueReady:
		return v.queue.ready, nil
	case vmmioIntStatus:
		return v.intStatus, nil
	case vmmioStatus:
		return v.status, nil
	case vmmioConfigGen:
		return 0, nil
	}
	return 0, nil
}

func (v *VirtioBlock) readConfig(off uint32) (uint32, error) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v.size))
	if int(off)+4 > len(buf) {
		return 0, nil
	}
	return binary.LittleEndian.Uint32(buf[off:]), nil
}

func (v *VirtioBlock) Write(offset uint32, size int, value uint32) error {
	switch offset {
	case vmmioDeviceFeatSel:
		v.featuresSel = value
	case vmmioDriverFeat, vmmioDriverFeatSel:
		// driver feature negotiation not modeled; accept anything.
	case vmmioQueueSel:
		v.queueSel = value
	case vmmioQueueNum:
		if value > 0 && value&(value-1) == 0 {
			v.queue.num = value
		}
	case vmmioQueueReady:
		v.queue.ready = value & 1
	case vmmioQueueNotify:
		if value == 0 {
			return v.processQueue()
		}
	case vmmioIntAck:
		v.intStatus &^= value
		if v.intStatus == 0 {
			v.irq = false
		}
	case vmmioStatus:
		v.status = value
		if value == 0 {
			v.queue = vqueue{}
		}
	case vmmioQueueDescLow:
		v.queue.descAddr = (v.queue.descAddr &^ 0xffffffff) | uint64(value)
	case vmmioQueueDescHigh:
		v.queue.descAddr = (v.queue.descAddr &^ (0xffffffff << 32)) | uint64(value)<<32
	case vmmioQueueAvailLow:
		v.queue.availAddr = (v.queue.availAddr &^ 0xffffffff) | uint64(value)
	case vmmioQueueAvailHigh:
		v.queue.availAddr = (v.queue.availAddr &^ (0xffffffff << 32)) | uint64(value)<<32
	case vmmioQueueUsedLow:
		v.queue.usedAddr = (v.queue.usedAddr &^ 0xffffffff) | uint64(value)
	case vmmioQueueUsedHigh:
		v.queue.usedAddr = (v.queue.usedAddr &^ (0xffffffff << 32)) | uint64(value)<<32
	}
	return nil
}

type vdesc struct {
	addr  uint64
	len   uint32
	flags uint16
	next  uint16
}

func (v *VirtioBlock) readDesc(idx uint16) (vdesc, error) {
	var buf [16]byte
	if _, err := v.store.ReadAt(buf[:], int64(v.queue.descAddr)+int64(idx)*16); err != nil {
		return vdesc{}, err
	}
	return vdesc{
		addr:  binary.LittleEndian.Uint64(buf[0:8]),
		len:   binary.LittleEndian.Uint32(buf[8:12]),
		flags: binary.LittleEndian.Uint16(buf[12:14]),
		next:  binary.LittleEndian.Uint16(buf[14:16]),
	}, nil
}

func (v *VirtioBlock) readU16(addr uint64) (uint16, error) {
	var buf [2]byte
	if _, err := v.store.ReadAt(buf[:], int64(addr)); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func (v *VirtioBlock) writeU16(addr uint64, val uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], val)
	_, err := v.store.WriteAt(buf[:], int64(addr))
	return err
}

func (v *VirtioBlock) writeU32(addr uint64, val uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	_, err := v.store.WriteAt(buf[:], int64(addr))
	return err
}

// processQueue walks every newly-available descriptor chain and services
// the virtio-blk request it describes (type 0 read, type 1 write).
func (v *VirtioBlock) processQueue() error {
	if v.queue.num == 0 {
		return nil
	}
	availIdx, err := v.readU16(v.queue.availAddr + 2)
	if err != nil {
		return err
	}
	for v.queue.lastAvailIdx != availIdx {
		ringOff := v.queue.availAddr + 4 + uint64(uint32(v.queue.lastAvailIdx)&(v.queue.num-1))*2
		descIdx, err := v.readU16(ringOff)
		if err != nil {
			return err
		}
		if err := v.serviceRequest(descIdx); err != nil {
			return fmt.Errorf("riscv: virtio-blk request failed: %w", err)
		}
		v.queue.lastAvailIdx++
	}
	return nil
}

func (v *VirtioBlock) serviceRequest(headIdx uint16) error {
	hdrDesc, err := v.readDesc(headIdx)
	if err != nil {
		return err
	}
	var hdr [16]byte
	if _, err := v.store.ReadAt(hdr[:], int64(hdrDesc.addr)); err != nil {
		return err
	}
	typ := binary.LittleEndian.Uint32(hdr[0:4])
	sector := binary.LittleEndian.Uint64(hdr[8:16])

	if hdrDesc.flags&vringDescFNext == 0 {
		return fmt.Errorf("request header has no data descriptor")
	}
	dataIdx := hdrDesc.next
	dataDesc, err := v.readDesc(dataIdx)
	if err != nil {
		return err
	}
	if dataDesc.flags&vringDescFNext == 0 {
		return fmt.Errorf("request data descriptor has no status descriptor")
	}
	statusIdx := dataDesc.next
	statusDesc, err := v.readDesc(statusIdx)
	if err != nil {
		return err
	}

	var written uint32
	switch typ {
	case 0: // VIRTIO_BLK_T_IN
		buf := make([]byte, dataDesc.len)
		if err := v.readSectors(buf, sector); err != nil {
			return err
		}
		if _, err := v.store.WriteAt(buf, int64(dataDesc.addr)); err != nil {
			return err
		}
		written = dataDesc.len
	case 1: // VIRTIO_BLK_T_OUT
		buf := make([]byte, dataDesc.len)
		if _, err := v.store.ReadAt(buf, int64(dataDesc.addr)); err != nil {
			return err
		}
		if err := v.writeSectors(buf, sector); err != nil {
			return err
		}
	default:
		// unsupported request types (flush, discard) report success with
		// no data transferred.
	}

	if err := v.store.Store(uint32(statusDesc.addr), 1, 0); err != nil {
		return err
	}

	return v.consumeDesc(headIdx, written+1)
}

func (v *VirtioBlock) consumeDesc(descIdx uint16, size uint32) error {
	usedIdx, err := v.readU16(v.queue.usedAddr + 2)
	if err != nil {
		return err
	}
	if err := v.writeU16(v.queue.usedAddr+2, usedIdx+1); err != nil {
		return err
	}
	entryOff := v.queue.usedAddr + 4 + (uint64(usedIdx)&uint64(v.queue.num-1))*8
	if err := v.writeU32(entryOff, uint32(descIdx)); err != nil {
		return err
	}
	if err := v.writeU32(entryOff+4, size); err != nil {
		return err
	}
	v.intStatus |= 1
	v.irq = true
	return nil
}

func (v *VirtioBlock) readSectors(buf []byte, sector uint64) error {
	if _, err := v.img.Seek(int64(sector)*sectorSize, io.SeekStart); err != nil {
		return err
	}
	_, err := io.ReadFull(v.img, buf)
	return err
}

func (v *VirtioBlock) writeSectors(buf []byte, sector uint64) error {
	if _, err := v.img.Seek(int64(sector)*sectorSize, io.SeekStart); err != nil {
		return err
	}
	_, err := v.img.Write(buf)
	return err
}

var (
	_ Device    = (*VirtioBlock)(nil)
	_ IRQSource = (*VirtioBlock)(nil)
)
