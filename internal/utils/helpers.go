package utils

import (
	"context"
	"errors"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/gotd/td/constant"
	"github.com/gotd/td/tg"
)

// toBotAPIChannelID converts a raw Telegram channel ID to BotAPI-style ID (-100<id>).
// gotgproto beta22+ stores peers using BotAPI-format keys, so lookups must use this format.
func toBotAPIChannelID(rawChannelID int64) int64 {
	var id constant.TDLibPeerID
	id.Channel(rawChannelID)
	return int64(id)
}

// TimeFormat renders a duration given in whole seconds as "1d2h3m4s",
// dropping leading zero components.
func TimeFormat(totalSeconds uint64) string {
	days := totalSeconds / 86400
	hours := (totalSeconds % 86400) / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	out := ""
	if days > 0 {
		out += fmt.Sprintf("%dd", days)
	}
	if hours > 0 || out != "" {
		out += fmt.Sprintf("%dh", hours)
	}
	if minutes > 0 || out != "" {
		out += fmt.Sprintf("%dm", minutes)
	}
	out += fmt.Sprintf("%ds", seconds)
	return out
}

// https://stackoverflow.com/a/70802740/15807350
func Contains[T comparable](s []T, e T) bool {
	for _, v := range s {
		if v == e {
			return true
		}
	}
	return false
}

// GetChannelPeer resolves an InputChannel for any given channel ID,
// consulting PeerStorage first so a channel touched once in the
// process lifetime never costs a second Telegram API round trip.
func GetChannelPeer(ctx context.Context, api *tg.Client, peerStorage *storage.PeerStorage, channelID int64) (*tg.InputChannel, error) {
	botAPIID := toBotAPIChannelID(channelID)

	cachedInputPeer := peerStorage.GetInputPeerById(botAPIID)

	switch peer := cachedInputPeer.(type) {
	case *tg.InputPeerEmpty:
		// Not cached, need to fetch from Telegram API
		break
	case *tg.InputPeerChannel:
		return &tg.InputChannel{
			ChannelID:  peer.ChannelID,
			AccessHash: peer.AccessHash,
		}, nil
	default:
		return nil, errors.New("unexpected type of input peer")
	}

	inputChannel := &tg.InputChannel{
		ChannelID: channelID,
	}
	channels, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{inputChannel})
	if err != nil {
		return nil, err
	}
	if len(channels.GetChats()) == 0 {
		return nil, errors.New("no channels found")
	}
	channel, ok := channels.GetChats()[0].(*tg.Channel)
	if !ok {
		return nil, errors.New("type assertion to *tg.Channel failed")
	}

	peerStorage.AddPeer(channel.GetID(), channel.AccessHash, storage.TypeChannel, "")
	return channel.AsInput(), nil
}
