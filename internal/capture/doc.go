// Package capture はデュアルカメラのキャプチャグラフを構築する
//
// # 責務
// - カメラごとに1つの入力を作成し、必要な出力シンクを追加する
// - 入力ポートとシンクを明示的なコネクションで結ぶ（自動配線はしない）
// - 全コネクションを縦向きに揃え、前面カメラのみ左右反転する
// - 構成を1トランザクションとしてコミットし、失敗時は何も残さない
//
// # 仕様
// - Builder: グラフ構造の唯一の所有者
// - Platform: 入力の作成・追加可否の判定・コミットを担うハードウェア層
// - Streamer: コミット済みグラフからフレームを配信する
// - SimulatedPlatform: テストパターンを生成する（テスト・デモ用）
// - V4L2Platform: ffmpeg経由でV4L2デバイスからフレームを取得する
package capture
