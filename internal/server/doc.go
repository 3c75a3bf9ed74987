// Package server は、HTTPサーバーとWebSocket通信を管理します。
//
// このパッケージは、セッションの操作API、状態の配信、
// 撮影した静止画とプレビューの配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - セッションの構成・開始・停止・撮影要求の受付
//   - WebSocketによる状態イベントの配信
//   - 直近の静止画とプレビュー（JPEG/MJPEG）の配信
//
// 仕様:
//   - ルーティングはgin、WebSocketはgorilla/websocketを使用
//   - グレースフルシャットダウンに対応
//   - 複数クライアントの同時接続をサポート
package server
