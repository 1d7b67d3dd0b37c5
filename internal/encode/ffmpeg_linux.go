//go:build linux

package encode

/*
#cgo pkg-config: libavcodec libavutil libswscale
#include <libavcodec/avcodec.h>
#include <libavutil/imgutils.h>
#include <libavutil/opt.h>
#include <libswscale/swscale.h>
#include <stdlib.h>
#include <string.h>

// ---------------------------------------------------------------------------
// CPU encoder — sws_scale BGRA→YUV420P, then avcodec_send_frame.
// The CUDA/NVENC zero-copy path this was paired with has no capture-side
// producer left in this tree (XShm is CPU-only) and was dropped; see
// DESIGN.md.
// ---------------------------------------------------------------------------

typedef struct {
	AVCodecContext *ctx;
	AVFrame *frame;
	AVPacket *pkt;
	struct SwsContext *sws;
	int width;
	int height;
	int64_t pts;
} CPUEncoder;

static CPUEncoder* cpu_encoder_init(int width, int height, int fps,
                                     int crf, int keyint,
                                     const char *codec_name) {
	CPUEncoder *e = (CPUEncoder*)calloc(1, sizeof(CPUEncoder));
	if (!e) return NULL;

	e->width = width;
	e->height = height;
	e->pts = 0;

	int is_hevc = (strcmp(codec_name, "h265") == 0);
	const AVCodec *codec = avcodec_find_encoder_by_name(is_hevc ? "libx265" : "libx264");
	if (!codec) return NULL;

	e->ctx = avcodec_alloc_context3(codec);
	if (!e->ctx) { free(e); return NULL; }

	e->ctx->width = width;
	e->ctx->height = height;
	e->ctx->time_base = (AVRational){1, fps};
	e->ctx->framerate = (AVRational){fps, 1};
	e->ctx->pix_fmt = AV_PIX_FMT_YUV420P;
	e->ctx->gop_size = keyint;
	e->ctx->max_b_frames = 0;
	e->ctx->flags |= AV_CODEC_FLAG_LOW_DELAY;

	av_opt_set(e->ctx->priv_data, "preset", "ultrafast", 0);
	av_opt_set(e->ctx->priv_data, "tune", "zerolatency", 0);
	av_opt_set_int(e->ctx->priv_data, "crf", crf, 0);
	if (!is_hevc) {
		av_opt_set(e->ctx->priv_data, "profile", "baseline", 0);
	}

	if (avcodec_open2(e->ctx, codec, NULL) < 0) {
		avcodec_free_context(&e->ctx);
		free(e);
		return NULL;
	}

	e->frame = av_frame_alloc();
	e->frame->format = e->ctx->pix_fmt;
	e->frame->width = width;
	e->frame->height = height;
	av_frame_get_buffer(e->frame, 0);

	e->pkt = av_packet_alloc();

	e->sws = sws_getContext(
		width, height, AV_PIX_FMT_BGRA,
		width, height, e->ctx->pix_fmt,
		SWS_FAST_BILINEAR, NULL, NULL, NULL);

	if (!e->sws) {
		av_packet_free(&e->pkt);
		av_frame_free(&e->frame);
		avcodec_free_context(&e->ctx);
		free(e);
		return NULL;
	}

	return e;
}

static int cpu_encoder_encode(CPUEncoder *e, const uint8_t *bgra, int stride,
                               uint8_t **out_buf, int *out_size, int *is_key) {
	*out_size = 0;

	const uint8_t *src_data[1] = { bgra };
	int src_linesize[1] = { stride };

	av_frame_make_writable(e->frame);
	sws_scale(e->sws, src_data, src_linesize, 0, e->height,
	          e->frame->data, e->frame->linesize);

	e->frame->pts = e->pts++;

	int ret = avcodec_send_frame(e->ctx, e->frame);
	if (ret < 0) return -1;

	ret = avcodec_receive_packet(e->ctx, e->pkt);
	if (ret == AVERROR(EAGAIN) || ret == AVERROR_EOF) return 0;
	if (ret < 0) return -1;

	*out_buf = e->pkt->data;
	*out_size = e->pkt->size;
	*is_key = (e->pkt->flags & AV_PKT_FLAG_KEY) ? 1 : 0;
	return 0;
}

static void cpu_encoder_unref(CPUEncoder *e) { av_packet_unref(e->pkt); }

static const char* cpu_encoder_name(CPUEncoder *e) { return e->ctx->codec->name; }

static void cpu_encoder_destroy(CPUEncoder *e) {
	if (!e) return;
	if (e->sws) sws_freeContext(e->sws);
	if (e->pkt) av_packet_free(&e->pkt);
	if (e->frame) av_frame_free(&e->frame);
	if (e->ctx) avcodec_free_context(&e->ctx);
	free(e);
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	"streamdeskd/internal/types"
)

// H264Encoder wraps the CPU libx264/libx265 path (sws_scale BGRA→YUV420P
// then avcodec_send_frame). The striped-H264 capture backend
// (capture.LinuxCaptureBackend) opens one per stripe.
type H264Encoder struct {
	e *C.CPUEncoder
}

// NewH264Encoder opens a software H264/H265 encoder for the striped video
// mode (§4.1, §9 — the CUDA zero-copy variant has been dropped).
func NewH264Encoder(width, height, fps, crf, gop int, codec string) (*H264Encoder, error) {
	keyint := gop
	if keyint <= 0 {
		keyint = fps * 2
	}

	cCodec := C.CString(codec)
	defer C.free(unsafe.Pointer(cCodec))

	e := C.cpu_encoder_init(
		C.int(width), C.int(height), C.int(fps),
		C.int(crf), C.int(keyint), cCodec)
	if e == nil {
		return nil, fmt.Errorf("failed to initialize video encoder %q", codec)
	}
	return &H264Encoder{e: e}, nil
}

// Encode scales and compresses one BGRA frame.
func (enc *H264Encoder) Encode(frame *types.Frame) (*types.EncodedFrame, error) {
	if len(frame.Data) == 0 {
		return nil, fmt.Errorf("encode: empty frame")
	}

	var outBuf *C.uint8_t
	var outSize C.int
	var isKey C.int

	ret := C.cpu_encoder_encode(enc.e,
		(*C.uint8_t)(unsafe.Pointer(&frame.Data[0])), C.int(frame.Stride),
		&outBuf, &outSize, &isKey)

	if ret != 0 {
		return nil, fmt.Errorf("encode failed")
	}
	if outSize == 0 {
		return nil, nil
	}

	data := C.GoBytes(unsafe.Pointer(outBuf), outSize)
	C.cpu_encoder_unref(enc.e)

	return &types.EncodedFrame{Data: data, IsKey: isKey != 0}, nil
}

func (enc *H264Encoder) Close() {
	C.cpu_encoder_destroy(enc.e)
}
