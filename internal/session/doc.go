// Package session はデュアルカメラセッションのライフサイクルを管理する
//
// # 責務
// - 権限確認・対応ハードウェアの判定・デバイス選択・グラフ構築をまとめて構成する
// - 構成・開始・停止・撮影要求を専用の直列ゴルーチンで実行する
// - ストリームのフレームを同期器へ渡し、揃った対を合成・保存する
// - 状態の変化と撮影結果をイベントとして1本の配信ゴルーチンから通知する
//
// # 状態遷移
//
//	Unconfigured → Configuring → Running ⇄ Stopped
//	いずれの状態からも構成エラーで Failed(reason) へ遷移する
package session
