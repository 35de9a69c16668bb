// Package doubaospeech 实现豆包（火山引擎）大模型语音的两个流式 WebSocket 客户端
//
//   - ASR: 大模型流式语音识别 (/api/v3/sauc/bigmodel_async)，RecognitionStream
//   - TTS: 大模型双向流式语音合成 (/api/v3/tts/bidirection)，SynthesisStream
//
// 两者共用同一种二进制帧格式：4 字节头 + 可选序号 / 事件 / 会话 ID + 负载长度 + 负载。
// 每个连接由一个读协程解码帧并推入队列，调用方通过 iter.Seq2 迭代结果。
//
// # 快速开始
//
//	client := doubaospeech.NewClient("your_app_key",
//	    doubaospeech.WithV2APIKey("your_access_key", "your_app_key"),
//	)
//
//	// 语音识别：第一次 Feed 时建立连接
//	stream := client.ASR.NewStream(&doubaospeech.ASRConfig{SampleRate: 16000})
//	stream.Feed(pcm)
//	for res, err := range stream.Recv(ctx) {
//	    ...
//	}
//
//	// 语音合成：一个会话内可多次 Send
//	tts, err := client.TTS.OpenStream(ctx, &doubaospeech.TTSConfig{Speaker: "BV700_V2_streaming"})
//	tts.Send(ctx, "你好。")
//	tts.Finish(ctx)
//	for audio, err := range tts.Recv(ctx) {
//	    ...
//	}
//	tts.Close()
package doubaospeech
