// Package camera はデュアルカメラ撮影に使う物理カメラの列挙と選択を担う
//
// # 責務
// - 接続されたカメラデバイスを位置（背面/前面）ごとに列挙する
// - 背面・前面の広角カメラをちょうど1台ずつ選択する
// - デバイスが2ストリーム同時撮影に対応しているかを判定する
//
// # 仕様
// - Registry: 一度だけハードウェアへ問い合わせ、結果をキャッシュする
// - Discovery: プラットフォームごとのデバイス検出（V4L2 / モック）
// - デバイス情報は列挙後に変更されない（値として返す）
//
// # 前提要件
//   - v4l-utils: V4L2Discovery がカメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package camera
