package mediadeck

import (
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/jfreymuth/pulse/proto"
	"github.com/mitchellh/go-ps"
	"go.uber.org/zap"

	"github.com/mediadeck/mediadeck/pkg/mediadeck/util"
)

const volumeNorm = 0x10000 // PulseAudio's 100%

// SinkInput is one audio-producing stream known to the system mixer
type SinkInput struct {
	ID      uint32
	AppName string
	Binary  string
}

// Mixer exposes the system audio server: fresh stream enumeration and
// relative volume adjustment. Implementations never cache stream lists -
// the audio server may renumber at any time
type Mixer interface {
	SinkInputs() ([]SinkInput, error)
	AdjustMasterVolume(deltaPercent int, maxPercent int) error
	AdjustSinkInputVolume(id uint32, deltaPercent int, maxPercent int) error
	Updates() <-chan struct{}
	Release() error
}

type paMixer struct {
	logger *zap.SugaredLogger

	client *proto.Client
	conn   net.Conn

	updates chan struct{}
}

func newPAMixer(logger *zap.SugaredLogger) (Mixer, error) {
	logger = logger.Named("mixer")

	client, conn, err := proto.Connect("")
	if err != nil {
		logger.Warnw("Failed to establish PulseAudio connection", "error", err)
		return nil, fmt.Errorf("establish PulseAudio connection: %w", err)
	}

	request := proto.SetClientName{
		Props: proto.PropList{
			"application.name": proto.PropListString("mediadeck"),
		},
	}
	reply := proto.SetClientNameReply{}

	if err := client.Request(&request, &reply); err != nil {
		return nil, err
	}

	m := &paMixer{
		logger:  logger,
		client:  client,
		conn:    conn,
		updates: make(chan struct{}, 1),
	}

	m.logger.Debug("Created PA mixer instance")

	// notify consumers when streams come and go so stale art can be redrawn.
	// the actual stream list is always re-fetched on demand, never from here
	err = client.Request(&proto.Subscribe{Mask: proto.SubscriptionMaskSinkInput}, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe to PulseAudio sink input events: %w", err)
	}

	client.Callback = func(msg interface{}) {
		switch msg := msg.(type) {
		case *proto.SubscribeEvent:
			if msg.Event&proto.EventFacilityMask == proto.EventSinkSinkInput {
				if msg.Event.GetType() == proto.EventNew || msg.Event.GetType() == proto.EventRemove {
					select {
					case m.updates <- struct{}{}:
					default: // a pending notification already covers this
					}
				}
			}
		}
	}

	return m, nil
}

// SinkInputs enumerates the current audio streams, ascending by identifier
func (m *paMixer) SinkInputs() ([]SinkInput, error) {
	request := proto.GetSinkInputInfoList{}
	reply := proto.GetSinkInputInfoListReply{}

	if err := m.client.Request(&request, &reply); err != nil {
		m.logger.Warnw("Failed to get sink input list", "error", err)
		return nil, fmt.Errorf("get sink input list: %w", err)
	}

	inputs := []SinkInput{}

	for _, info := range reply {
		input := SinkInput{ID: info.SinkInputIndex}

		if name, ok := info.Properties["application.name"]; ok {
			input.AppName = name.String()
		}

		if binary, ok := info.Properties["application.process.binary"]; ok {
			input.Binary = binary.String()
		} else {
			// some clients omit the binary property; fall back to resolving
			// their PID through the process table
			input.Binary = m.binaryFromPID(info.Properties)
		}

		if input.Binary == "" {
			m.logger.Warnw("Failed to get sink input's process name",
				"sinkInputIndex", info.SinkInputIndex)

			continue
		}

		inputs = append(inputs, input)
	}

	sort.Slice(inputs, func(i, j int) bool { return inputs[i].ID < inputs[j].ID })

	return inputs, nil
}

func (m *paMixer) binaryFromPID(props proto.PropList) string {
	pidProp, ok := props["application.process.id"]
	if !ok {
		return ""
	}

	pid, err := strconv.Atoi(pidProp.String())
	if err != nil {
		return ""
	}

	process, err := ps.FindProcess(pid)
	if err != nil || process == nil {
		return ""
	}

	return process.Executable()
}

// AdjustMasterVolume changes the default output device's volume by the given
// relative percentage, clamped to [0, maxPercent]
func (m *paMixer) AdjustMasterVolume(deltaPercent int, maxPercent int) error {
	request := proto.GetSinkInfo{SinkIndex: proto.Undefined}
	reply := proto.GetSinkInfoReply{}

	if err := m.client.Request(&request, &reply); err != nil {
		m.logger.Warnw("Failed to get master sink info", "error", err)
		return fmt.Errorf("get master sink info: %w", err)
	}

	volumes := adjustedChannelVolumes(reply.ChannelVolumes, deltaPercent, maxPercent)

	err := m.client.Request(&proto.SetSinkVolume{
		SinkIndex:      reply.SinkIndex,
		ChannelVolumes: volumes,
	}, nil)
	if err != nil {
		m.logger.Warnw("Failed to set master sink volume", "error", err)
		return fmt.Errorf("set master sink volume: %w", err)
	}

	return nil
}

// AdjustSinkInputVolume changes one stream's volume by the given relative
// percentage, clamped to [0, maxPercent]
func (m *paMixer) AdjustSinkInputVolume(id uint32, deltaPercent int, maxPercent int) error {
	request := proto.GetSinkInputInfo{SinkInputIndex: id}
	reply := proto.GetSinkInputInfoReply{}

	if err := m.client.Request(&request, &reply); err != nil {
		// the stream may have closed between the caller's read and this call
		m.logger.Debugw("Failed to get sink input info", "sinkInputIndex", id, "error", err)
		return fmt.Errorf("get sink input info: %w", err)
	}

	volumes := adjustedChannelVolumes(reply.ChannelVolumes, deltaPercent, maxPercent)

	err := m.client.Request(&proto.SetSinkInputVolume{
		SinkInputIndex: id,
		ChannelVolumes: volumes,
	}, nil)
	if err != nil {
		m.logger.Warnw("Failed to set sink input volume", "sinkInputIndex", id, "error", err)
		return fmt.Errorf("set sink input volume: %w", err)
	}

	return nil
}

func (m *paMixer) Updates() <-chan struct{} {
	return m.updates
}

func (m *paMixer) Release() error {
	if err := m.conn.Close(); err != nil {
		m.logger.Warnw("Failed to close PulseAudio connection", "error", err)
		return fmt.Errorf("close PulseAudio connection: %w", err)
	}

	m.logger.Debug("Released PA mixer instance")

	return nil
}

// adjustedChannelVolumes applies a uniform relative step to all channels,
// derived from the loudest one so a mid-drag balance isn't skewed
func adjustedChannelVolumes(current []uint32, deltaPercent int, maxPercent int) []uint32 {
	loudest := uint32(0)
	for _, v := range current {
		if v > loudest {
			loudest = v
		}
	}

	target := int(loudest) + deltaPercent*volumeNorm/100
	target = util.Clamp(target, 0, maxPercent*volumeNorm/100)

	volumes := make([]uint32, len(current))
	for i := range volumes {
		volumes[i] = uint32(target)
	}

	return volumes
}
