package comm

import (
	"bytes"
	"log"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LogHook", func() {
	var (
		out    *bytes.Buffer
		logger *log.Logger
		c      *Communicator
	)

	BeforeEach(func() {
		out = new(bytes.Buffer)
		logger = log.New(out, "", 0)
		c = NewCommunicator()
	})

	It("should only log messages in the msg logger", func() {
		h := NewMsgLogger(logger)

		h.Func(HookCtx{Domain: c, Pos: HookPosChannelRegister, Item: ChannelKey{1, 2}})
		Expect(out.String()).To(BeEmpty())

		h.Func(HookCtx{
			Domain: c,
			Pos:    HookPosMsgRecv,
			Item: Msg{
				MsgMeta: MsgMeta{ID: "5", Src: 34, Dst: 1},
				Class:   ServerNotification,
				Type:    Selected,
			},
		})
		Expect(out.String()).To(Equal(
			"Communicator,Msg Recv,5,34,1,S2D_NOTIFICATION,SELECTED,nil\n"))
	})

	It("should skip messages in the event logger", func() {
		h := NewEventLogger(logger)

		h.Func(HookCtx{Domain: c, Pos: HookPosMsgSend, Item: Msg{}})
		Expect(out.String()).To(BeEmpty())

		h.Func(HookCtx{Domain: c, Pos: HookPosChannelRegister, Item: ChannelKey{1, 2}})
		Expect(out.String()).To(Equal("Communicator,Channel Register,{1 2}\n"))
	})

	It("should name payload types", func() {
		Expect(PayloadType(nil)).To(Equal("nil"))
		Expect(PayloadType([]float32{1})).To(Equal("[]float32"))
		Expect(PayloadType(map[string]float64{})).To(Equal("map[string]float64"))
	})
})
