// labctl 是模板与报告数据的命令行管理工具：导入/导出模板、导入项目数据、离线渲染 PDF。
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
